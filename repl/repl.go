// Package repl implements the interactive text surface of the simulator. It
// talks to the core exclusively through the model facade and the bus rule
// API.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Hemanth-S/consensus-playground/raft/model"
	"github.com/Hemanth-S/consensus-playground/raft/node"
	"github.com/Hemanth-S/consensus-playground/raft/types"
	"github.com/Hemanth-S/consensus-playground/scenario"
	"github.com/Hemanth-S/consensus-playground/sim/bus"
)

// New creates a REPL reading commands from in and writing replies to out.
func New(in io.Reader, out io.Writer, log *zap.Logger, config node.Config) *REPL {
	return &REPL{
		in:     bufio.NewScanner(in),
		out:    out,
		log:    log,
		config: config,
	}
}

// REPL drives a model interactively.
type REPL struct {
	in     *bufio.Scanner
	out    io.Writer
	log    *zap.Logger
	config node.Config

	model      *model.Model
	controller *scenario.Controller
}

// Run reads commands until quit or EOF. Command mistakes are reported on the
// output stream; only I/O and simulator failures abort the loop.
func (r *REPL) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		fmt.Fprint(r.out, "> ")
		if !r.in.Scan() {
			return errors.WithStack(r.in.Err())
		}

		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}
		quit, err := r.execute(line)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

func (r *REPL) execute(line string) (bool, error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "quit", "exit":
		return true, nil
	case "load":
		return false, r.load(args)
	case "init":
		return false, r.init(args)
	case "step":
		return false, r.step(args)
	case "play":
		return false, r.play()
	case "write":
		return false, r.write(line)
	case "crash":
		return false, r.setUp(args, false)
	case "recover":
		return false, r.setUp(args, true)
	case "partition":
		return false, r.partition(args)
	case "delay":
		return false, r.addDelayRule(args)
	case "drop":
		return false, r.addDropRule(args)
	case "dump":
		return false, r.dump(args)
	case "help":
		r.printHelp()
		return false, nil
	default:
		fmt.Fprintf(r.out, "unknown command %q (try help)\n", cmd)
		return false, nil
	}
}

func (r *REPL) load(args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: load <path>")
		return nil
	}
	s, err := scenario.Load(args[0])
	if err != nil {
		fmt.Fprintf(r.out, "load failed: %s\n", err)
		return nil
	}
	m, err := scenario.Build(s, r.log, r.config)
	if err != nil {
		fmt.Fprintf(r.out, "load failed: %s\n", err)
		return nil
	}
	r.model = m
	r.controller = scenario.NewController(m, s, r.log)
	fmt.Fprintf(r.out, "loaded scenario with %d nodes, seed=%d\n",
		len(m.NodeIDs()), m.Seed())
	return nil
}

func (r *REPL) init(args []string) error {
	if len(args) == 0 || args[0] != "raft" {
		fmt.Fprintln(r.out, "usage: init raft --nodes N --seed S")
		return nil
	}
	nodes := 3
	seed := int64(0)
	kv := keyValues(args[1:])
	if v, ok := kv["--nodes"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fmt.Fprintf(r.out, "invalid --nodes %q\n", v)
			return nil
		}
		nodes = n
	}
	if v, ok := kv["--seed"]; ok {
		s, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fmt.Fprintf(r.out, "invalid --seed %q\n", v)
			return nil
		}
		seed = s
	}

	ids := make([]types.NodeID, 0, nodes)
	for i := 1; i <= nodes; i++ {
		ids = append(ids, types.NodeID(fmt.Sprintf("n%d", i)))
	}
	m, err := model.New(ids, seed, r.log, r.config)
	if err != nil {
		return err
	}
	r.model = m
	r.controller = scenario.NewController(m, scenario.Scenario{Model: "raft"}, r.log)
	fmt.Fprintf(r.out, "initialized raft model with %d nodes, seed=%d\n", nodes, seed)
	return nil
}

func (r *REPL) step(args []string) error {
	if r.controller == nil {
		fmt.Fprintln(r.out, "no model (use init or load first)")
		return nil
	}
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			fmt.Fprintf(r.out, "invalid step count %q\n", args[0])
			return nil
		}
		n = v
	}
	if err := r.controller.StepN(n); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "t=%d\n", r.controller.Now())
	return nil
}

func (r *REPL) play() error {
	if r.controller == nil {
		fmt.Fprintln(r.out, "no model (use init or load first)")
		return nil
	}
	if err := r.controller.PlayToEnd(); err != nil {
		return err
	}
	results, err := r.controller.EvaluateAssertions()
	if err != nil {
		return err
	}
	for _, result := range results {
		fmt.Fprintln(r.out, result)
	}
	if len(results) == 0 {
		fmt.Fprintln(r.out, "no assertions")
	}
	return nil
}

func (r *REPL) write(line string) error {
	if r.model == nil {
		fmt.Fprintln(r.out, "no model (use init or load first)")
		return nil
	}
	command, ok := quotedArg(line)
	if !ok {
		fmt.Fprintln(r.out, `usage: write "<cmd>"`)
		return nil
	}
	result, err := r.model.ClientWrite(command)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s\n", result)
	return nil
}

func (r *REPL) setUp(args []string, up bool) error {
	if r.model == nil {
		fmt.Fprintln(r.out, "no model (use init or load first)")
		return nil
	}
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: crash <id> | recover <id>")
		return nil
	}
	if up {
		return r.model.Recover(types.NodeID(args[0]))
	}
	return r.model.Crash(types.NodeID(args[0]))
}

func (r *REPL) partition(args []string) error {
	if r.model == nil {
		fmt.Fprintln(r.out, "no model (use init or load first)")
		return nil
	}
	switch {
	case len(args) == 3 && args[0] == "add":
		groupA := splitIDs(args[1])
		groupB := splitIDs(args[2])
		r.model.Partition(groupA, groupB)
		fmt.Fprintln(r.out, "partition installed")
	case len(args) == 1 && args[0] == "clear":
		r.model.ClearPartitions()
		fmt.Fprintln(r.out, "rules cleared")
	default:
		fmt.Fprintln(r.out, "usage: partition add <a,b> <c,d> | partition clear")
	}
	return nil
}

func (r *REPL) addDelayRule(args []string) error {
	if r.model == nil {
		fmt.Fprintln(r.out, "no model (use init or load first)")
		return nil
	}
	kv := keyValues(args)
	steps, err := strconv.Atoi(kv["steps"])
	if kv["from"] == "" || kv["to"] == "" || err != nil {
		fmt.Fprintln(r.out, "usage: delay from=A to=B [type=T] steps=k")
		return nil
	}
	rule, err := bus.NewRule(matchFromKV(kv), bus.ActionDelay, types.Tick(steps), 0)
	if err != nil {
		fmt.Fprintf(r.out, "invalid rule: %s\n", err)
		return nil
	}
	r.model.Bus().AddRule(rule)
	fmt.Fprintln(r.out, "rule added")
	return nil
}

func (r *REPL) addDropRule(args []string) error {
	if r.model == nil {
		fmt.Fprintln(r.out, "no model (use init or load first)")
		return nil
	}
	kv := keyValues(args)
	if kv["from"] == "" || kv["to"] == "" {
		fmt.Fprintln(r.out, "usage: drop from=A to=B [type=T] [pct=p]")
		return nil
	}
	pct := 1.0
	if v, ok := kv["pct"]; ok {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			fmt.Fprintf(r.out, "invalid pct %q\n", v)
			return nil
		}
		pct = p
	}
	action := bus.ActionDrop
	if pct < 1 {
		action = bus.ActionDropProb
	}
	rule, err := bus.NewRule(matchFromKV(kv), action, 0, pct)
	if err != nil {
		fmt.Fprintf(r.out, "invalid rule: %s\n", err)
		return nil
	}
	r.model.Bus().AddRule(rule)
	fmt.Fprintln(r.out, "rule added")
	return nil
}

func (r *REPL) dump(args []string) error {
	if r.model == nil {
		fmt.Fprintln(r.out, "no model (use init or load first)")
		return nil
	}
	view := "state"
	if len(args) > 0 {
		view = args[0]
	}
	switch view {
	case "state":
		fmt.Fprint(r.out, r.model.Dump())
	case "nodes":
		for _, id := range r.model.NodeIDs() {
			n, _ := r.model.Node(id)
			status := "UP"
			if !n.Up() {
				status = "DOWN"
			}
			fmt.Fprintf(r.out, "%s: %s %s\n", id, status, n.Dump())
		}
	case "logs":
		for _, id := range r.model.NodeIDs() {
			n, _ := r.model.Node(id)
			fmt.Fprintf(r.out, "%s (commit=%d):\n", id, n.State().CommitIndex())
			for _, entry := range n.State().Entries() {
				fmt.Fprintf(r.out, "  %d: term=%d cmd=%q\n", entry.Index, entry.Term, entry.Command)
			}
		}
	case "net":
		b := r.model.Bus()
		fmt.Fprintf(r.out, "rules (%d):\n", len(b.Rules()))
		for i, rule := range b.Rules() {
			fmt.Fprintf(r.out, "  %d: %s\n", i, rule)
		}
		fmt.Fprintf(r.out, "delayed messages: %d\n", b.Pending())
		for _, id := range r.model.NodeIDs() {
			fmt.Fprintf(r.out, "inbox %s: %d\n", id, b.InboxDepth(id))
		}
	default:
		fmt.Fprintln(r.out, "usage: dump [nodes|logs|net|state]")
	}
	return nil
}

func (r *REPL) printHelp() {
	fmt.Fprint(r.out, `commands:
  load <path>                         parse scenario, apply initial state and rules
  init raft --nodes N --seed S        build a fresh model
  step [N]                            advance N ticks (default 1)
  play                                run timeline to the end and check assertions
  write "<cmd>"                       client write
  crash <id> | recover <id>           fault injection
  partition add <a,b> <c,d>           drop traffic between groups
  partition clear                     clear all rules
  delay from=A to=B [type=T] steps=k  install delay rule
  drop from=A to=B [type=T] [pct=p]   install drop rule
  dump [nodes|logs|net|state]         introspect
  quit                                exit
`)
}

func keyValues(args []string) map[string]string {
	kv := map[string]string{}
	for i := 0; i < len(args); i++ {
		if k, v, ok := strings.Cut(args[i], "="); ok {
			kv[k] = v
			continue
		}
		if strings.HasPrefix(args[i], "--") && i+1 < len(args) {
			kv[args[i]] = args[i+1]
			i++
		}
	}
	return kv
}

func matchFromKV(kv map[string]string) bus.Match {
	m := bus.Match{From: kv["from"], To: kv["to"], Kind: kv["type"]}
	if m.Kind == "" {
		m.Kind = bus.Wildcard
	}
	return m
}

func quotedArg(line string) (string, bool) {
	start := strings.Index(line, `"`)
	end := strings.LastIndex(line, `"`)
	if start < 0 || end <= start {
		return "", false
	}
	return line[start+1 : end], true
}

func splitIDs(s string) []types.NodeID {
	parts := strings.Split(s, ",")
	ids := make([]types.NodeID, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, types.NodeID(p))
		}
	}
	return ids
}
