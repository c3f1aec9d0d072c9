package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// fakeRunner simulates crontab, schtasks and launchctl state in memory
type fakeRunner struct {
	mu     sync.Mutex
	calls  []string
	cron   *string
	tasks  map[string][]string
	loaded map[string]bool
	// fail maps "<command> <first arg>" to exit codes returned in order before normal handling resumes
	fail map[string][]int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		tasks:  make(map[string][]string),
		loaded: make(map[string]bool),
		fail:   make(map[string][]int),
	}
}

func (f *fakeRunner) failNext(key string, codes ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[key] = append(f.fail[key], codes...)
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRunner) CallsTo(prefix string) []string {
	var out []string
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRunner) Run(_ context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))

	key := name
	if len(args) > 0 {
		key += " " + args[0]
	}
	if codes := f.fail[key]; len(codes) > 0 {
		f.fail[key] = codes[1:]
		return nil, commandFailure(name, args, codes[0], "simulated failure")
	}

	switch name {
	case crontabCommand:
		return f.crontab(stdin, args)
	case schtasksCommand:
		return f.schtasks(args)
	case launchctlCommand:
		return f.launchctl(args)
	}
	return nil, &CommandError{Command: name, Args: args, ExitCode: -1, Err: fmt.Errorf("executable file not found")}
}

func (f *fakeRunner) crontab(stdin []byte, args []string) ([]byte, error) {
	switch args[0] {
	case "-l":
		if f.cron == nil {
			out := "no crontab for tester"
			return []byte(out), commandFailure(crontabCommand, args, 1, out)
		}
		return []byte(*f.cron), nil
	case "-":
		content := string(stdin)
		f.cron = &content
		return nil, nil
	}
	return nil, commandFailure(crontabCommand, args, 1, "usage")
}

func (f *fakeRunner) schtasks(args []string) ([]byte, error) {
	name := argAfter(args, "/TN")
	switch args[0] {
	case "/Create":
		f.tasks[name] = args
		return []byte("SUCCESS: The scheduled task has successfully been created."), nil
	case "/Delete":
		if _, ok := f.tasks[name]; !ok {
			return nil, commandFailure(schtasksCommand, args, 1, "ERROR: The system cannot find the file specified.")
		}
		delete(f.tasks, name)
		return nil, nil
	case "/Query":
		if name != "" {
			if _, ok := f.tasks[name]; !ok {
				return nil, commandFailure(schtasksCommand, args, 1, "ERROR: The system cannot find the file specified.")
			}
			return []byte(name), nil
		}
		names := make([]string, 0, len(f.tasks))
		for n := range f.tasks {
			names = append(names, n)
		}
		sort.Strings(names)
		return []byte("TaskName\n" + strings.Join(names, "\n")), nil
	}
	return nil, commandFailure(schtasksCommand, args, 1, "usage")
}

func (f *fakeRunner) launchctl(args []string) ([]byte, error) {
	switch args[0] {
	case "bootstrap":
		f.loaded[labelFromPath(args[2])] = true
	case "load":
		f.loaded[labelFromPath(args[1])] = true
	case "bootout":
		delete(f.loaded, labelFromPath(args[2]))
	case "enable", "disable":
	case "kickstart":
		if !f.loaded[labelFromService(args[2])] {
			return nil, commandFailure(launchctlCommand, args, kickstartAlreadyRunning, "Could not find service")
		}
	case "start":
		if !f.loaded[args[1]] {
			return nil, commandFailure(launchctlCommand, args, startNotLoaded, "")
		}
	case "print":
		if strings.Count(args[1], "/") == 2 {
			if !f.loaded[labelFromService(args[1])] {
				return nil, commandFailure(launchctlCommand, args, 113, "Could not find service")
			}
			return []byte(args[1]), nil
		}
		labels := make([]string, 0, len(f.loaded))
		for l := range f.loaded {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		return []byte(args[1] + " = {\n\tservices = {\n\t\t" + strings.Join(labels, "\n\t\t") + "\n\t}\n}"), nil
	default:
		return nil, commandFailure(launchctlCommand, args, 1, "usage")
	}
	return nil, nil
}

func commandFailure(name string, args []string, code int, output string) error {
	return &CommandError{
		Command:  name,
		Args:     args,
		ExitCode: code,
		Output:   output,
		Err:      fmt.Errorf("exit status %d", code),
	}
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func labelFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".plist")
}

func labelFromService(service string) string {
	return service[strings.LastIndex(service, "/")+1:]
}
