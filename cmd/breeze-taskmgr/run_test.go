package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParsePID(t *testing.T) {
	if pid, err := parsePID(" 4242 "); err != nil || pid != 4242 {
		t.Fatalf("parsePID(4242) = %d, %v", pid, err)
	}
	for _, in := range []string{"", "abc", "0", "-5", "1.5", "99999999999"} {
		if _, err := parsePID(in); !errors.Is(err, errNoProcessSelected) {
			t.Errorf("parsePID(%q) = %v, want errNoProcessSelected", in, err)
		}
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
	}{
		{"", command{}},
		{"   ", command{}},
		{"kill 17", command{name: "kill", pid: 17}},
		{"TERMINATE 17", command{name: "kill", pid: 17}},
		{"launch gedit /tmp/notes.txt", command{name: "launch", arg: "gedit /tmp/notes.txt"}},
		{"launch", command{name: "launch"}},
		{"refresh", command{name: "refresh"}},
		{"quit", command{name: "quit"}},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.line)
		if err != nil {
			t.Errorf("parseCommand(%q): %v", tt.line, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestParseCommandErrors(t *testing.T) {
	if _, err := parseCommand("kill"); !errors.Is(err, errNoProcessSelected) {
		t.Fatalf("kill without pid = %v", err)
	}
	if _, err := parseCommand("kill notapid"); !errors.Is(err, errNoProcessSelected) {
		t.Fatalf("kill notapid = %v", err)
	}
	if _, err := parseCommand("reboot"); err == nil {
		t.Fatal("unknown command should fail")
	}
}

func TestRootCommandReportsErrorsOnce(t *testing.T) {
	if !rootCmd.SilenceErrors {
		t.Fatal("cobra must not print errors; main already does")
	}
	if !rootCmd.SilenceUsage {
		t.Fatal("usage should not follow a runtime error")
	}
}

func TestExecuteDoesNotPrintError(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"kill"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("kill without a pid should fail")
	}
	if strings.Contains(out.String(), "Error:") {
		t.Fatalf("cobra printed the error itself:\n%s", out.String())
	}
}
