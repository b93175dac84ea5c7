package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fansqz/go-dap-client/adapter"
	"github.com/fansqz/go-dap-client/constants"
	"github.com/fansqz/go-dap-client/debugger"
	"github.com/fansqz/go-dap-client/persistence"
	"github.com/fansqz/go-dap-client/utils/gosync"
	"github.com/sirupsen/logrus"
)

// 定义版本号
const Version = "0.1.0"

func main() {
	//启动日志
	SetupLogger()
	defer CloseLogger()

	showVersion := flag.Bool("version", false, "Show the version number")
	language := flag.String("language", "go", "Program language")
	program := flag.String("program", "", "Program to debug")
	addr := flag.String("addr", "", "Address of a running debug adapter; empty to spawn one")
	command := flag.String("cmd", "", "Adapter command to spawn, space separated")
	stopOnEntry := flag.Bool("stopOnEntry", false, "Stop at program entry")
	stateFile := flag.String("state", "", "Saved breakpoints file")
	project := flag.String("project", "", "Project path in the saved breakpoints file")
	terminateDebuggee := flag.Bool("terminate", true, "Terminate the debuggee on quit")
	flag.Parse()

	// 检查是否需要显示版本信息
	if *showVersion {
		fmt.Printf("Version: %s\n", Version)
		return
	}
	if *program == "" && *addr == "" {
		fmt.Println("program cannot be empty")
		return
	}

	ctx := context.Background()

	// 启动或者连接adapter
	option := &adapter.Option{Addr: *addr}
	if *command != "" {
		option.Command = strings.Fields(*command)
	} else if *addr == "" {
		option.Addr = "127.0.0.1:54321"
		cmd, err := adapter.DefaultCommand(constants.LanguageType(*language), option.Addr)
		if err != nil {
			fmt.Printf("start adapter fail: %s\n", err)
			return
		}
		option.Command = cmd
	}
	adapterProcess, err := adapter.Start(ctx, option)
	if err != nil {
		fmt.Printf("start adapter fail: %s\n", err)
		return
	}
	defer adapterProcess.Stop()

	// 启动调试器
	debug := debugger.NewDebugger(adapterProcess.Conn(), &debugger.StartOption{
		Language:          constants.LanguageType(*language),
		LaunchArguments:   launchArguments(*language, *program, *stopOnEntry),
		StopOnEntry:       *stopOnEntry,
		Breakpoints:       loadBreakpoints(*stateFile, *project),
		TerminateDebuggee: *terminateDebuggee,
		OnOutput: func(category string, output string) {
			fmt.Print(output)
		},
	})

	states, cancel := debug.Subscribe()
	defer cancel()
	done := make(chan struct{})
	gosync.Go(ctx, func(ctx context.Context) {
		printStates(states)
		close(done)
	})

	if err = debug.Start(ctx); err != nil {
		fmt.Printf("start debug fail: %s\n", err)
		return
	}

	repl(ctx, debug)
	_ = debug.Shutdown(ctx)
	<-done
}

// printStates 打印状态变更，暂停时带上位置信息
func printStates(states <-chan *debugger.ProgramState) {
	for state := range states {
		switch state.State {
		case constants.Paused:
			if len(state.Stack) > 0 {
				top := state.Stack[0]
				file := top.Name
				if top.Source != nil {
					file = top.Source.Path
				}
				fmt.Printf("* paused (%s) at %s:%d in %s\n", state.Reason, file, top.Line, top.Name)
			} else {
				fmt.Printf("* paused (%s)\n", state.Reason)
			}
		case constants.Terminated:
			if state.Err != nil {
				fmt.Printf("* terminated: %s\n", state.Err)
			} else {
				fmt.Println("* terminated")
			}
		default:
			fmt.Printf("* %s\n", state.State)
		}
	}
}

// repl 简单的交互循环，quit或者输入结束后返回
func repl(ctx context.Context, debug *debugger.Debugger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: continue(c) next(n) step(s) out(o) pause(p) eval(e) break(b) delete(d) list(l) quit(q)")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		var err error
		switch fields[0] {
		case "c", "continue":
			err = debug.Continue(ctx)
		case "n", "next":
			err = debug.StepOver(ctx)
		case "s", "step":
			err = debug.StepIn(ctx)
		case "o", "out":
			err = debug.StepOut(ctx)
		case "p", "pause":
			err = debug.Pause(ctx)
		case "e", "eval":
			err = evalCommand(ctx, debug, fields[1:])
		case "b", "break":
			err = breakCommand(ctx, debug, fields[1:])
		case "d", "delete":
			err = deleteCommand(ctx, debug, fields[1:])
		case "l", "list":
			for _, bp := range debug.GetBreakpoints() {
				fmt.Printf("%d\t%s:%d\tverified=%v\n", bp.ID, bp.Path, bp.Line, bp.Verified)
			}
		case "q", "quit":
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
		if err != nil {
			fmt.Printf("error: %s\n", err)
		}
	}
}

func evalCommand(ctx context.Context, debug *debugger.Debugger, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: eval <expression>")
	}
	state := debug.GetState()
	frameID := 0
	if state.PausedFrame != nil {
		frameID = state.PausedFrame.Frame.Id
	}
	result, err := debug.Evaluate(ctx, strings.Join(args, " "), frameID, constants.EvaluateRepl)
	if err != nil {
		return err
	}
	fmt.Println(result.Result)
	return nil
}

func breakCommand(ctx context.Context, debug *debugger.Debugger, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: break <file:line>")
	}
	file, lineStr, found := strings.Cut(args[0], ":")
	if !found {
		return fmt.Errorf("usage: break <file:line>")
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil {
		return fmt.Errorf("bad line number %q", lineStr)
	}
	id, err := debug.AddBreakpoint(ctx, debugger.NewBreakpoint(file, line))
	if err != nil {
		return err
	}
	fmt.Printf("breakpoint %d set\n", id)
	return nil
}

func deleteCommand(ctx context.Context, debug *debugger.Debugger, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: delete <id>")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad breakpoint id %q", args[0])
	}
	return debug.RemoveBreakpoint(ctx, id)
}

// launchArguments 根据语言拼一份launch参数，原样转发给adapter
func launchArguments(language string, program string, stopOnEntry bool) json.RawMessage {
	arguments := map[string]interface{}{
		"name":        "Launch " + filepath.Base(program),
		"type":        language,
		"request":     "launch",
		"program":     program,
		"stopOnEntry": stopOnEntry,
	}
	if language == string(constants.LanguageGo) {
		arguments["mode"] = "debug"
	}
	data, err := json.Marshal(arguments)
	if err != nil {
		logrus.Errorf("[main] marshal launch arguments fail, err = %v", err)
		return json.RawMessage("{}")
	}
	return data
}

// loadBreakpoints 从持久化文档里恢复断点
func loadBreakpoints(stateFile string, project string) []*debugger.Breakpoint {
	if stateFile == "" {
		return nil
	}
	data, err := os.ReadFile(stateFile)
	if err != nil {
		logrus.Warnf("[main] read state file fail, err = %v", err)
		return nil
	}
	document := persistence.Parse(data)
	var saved []persistence.Breakpoint
	if project != "" {
		if p := document.ProjectFor(project); p != nil {
			saved = p.Breakpoints
		}
	} else {
		for _, p := range document.Projects {
			saved = append(saved, p.Breakpoints...)
		}
	}
	breakpoints := make([]*debugger.Breakpoint, 0, len(saved))
	for _, bp := range saved {
		breakpoint := debugger.NewBreakpoint(bp.Path, bp.Line)
		if bp.Name != nil {
			breakpoint.Name = *bp.Name
		}
		breakpoints = append(breakpoints, breakpoint)
	}
	return breakpoints
}
