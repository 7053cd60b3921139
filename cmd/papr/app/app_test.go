package app

import "testing"

// TestCommands exists to ensure that the command tree builds without
// panicking and exposes the subcommands operators rely on.
func TestCommands(t *testing.T) {
	if RootCmd == nil {
		t.Fatal("expected non-nil root command")
	}

	names := map[string]bool{}
	for _, c := range RootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"runtest", "validate", "version"} {
		if !names[want] {
			t.Errorf("expected %q subcommand to be registered", want)
		}
	}
}

func TestRunTestRequiresRepoFlag(t *testing.T) {
	cmd := NewCmdRunTest()
	if err := cmd.Flags().Set("branch", "main"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.ValidateRequiredFlags(); err == nil {
		t.Error("expected missing --repo to fail required-flag validation")
	}
	if err := cmd.Flags().Set("repo", "o/r"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.ValidateRequiredFlags(); err != nil {
		t.Errorf("unexpected error once --repo is set: %v", err)
	}
}

func TestValidateRequiresExactlyOneArg(t *testing.T) {
	cmd := NewCmdValidate()
	if err := cmd.Args(cmd, nil); err == nil {
		t.Error("expected missing YML_FILE argument to fail")
	}
	if err := cmd.Args(cmd, []string{"suite.yml"}); err != nil {
		t.Errorf("unexpected error for single argument: %v", err)
	}
}
