package main

import (
	"context"
	"database/sql"
	"io"
	"io/fs"
	"log"
	"testing"

	"github.com/trezcool/darasa/core/user"
	logsvc "github.com/trezcool/darasa/services/logger"
	inmemdb "github.com/trezcool/darasa/storage/database/inmem"
)

func testCLI() *commandLine {
	db, err := inmemdb.Open()
	if err != nil {
		panic(err)
	}
	nopLogger := logsvc.NewStdLogger(log.New(io.Discard, "", 0))
	return &commandLine{
		usrSvc: user.NewService(inmemdb.NewUserRepository(db), nopLogger),
	}
}

func mockPassword(t *testing.T, pwd string) {
	t.Helper()
	orig := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = orig })
}

func TestCLIMigrate(t *testing.T) {
	var gotCommand string
	var gotArgs []string
	orig := gooseRunFunc
	gooseRunFunc = func(command string, _ *sql.DB, _ fs.FS, _ string, args ...string) error {
		gotCommand = command
		gotArgs = args
		return nil
	}
	t.Cleanup(func() { gooseRunFunc = orig })

	cli := testCLI()
	if err := cli.run([]string{"admin", "migrate", "up"}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if gotCommand != "up" || len(gotArgs) != 0 {
		t.Errorf("ran %q with args %v, want \"up\" with none", gotCommand, gotArgs)
	}

	if err := cli.run([]string{"admin", "migrate", "down-to", "1"}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if gotCommand != "down-to" || len(gotArgs) != 1 || gotArgs[0] != "1" {
		t.Errorf("ran %q with args %v, want \"down-to\" with [1]", gotCommand, gotArgs)
	}

	if err := cli.run([]string{"admin", "migrate"}); err != errHelp {
		t.Errorf("run() error = %v, want errHelp", err)
	}
}

func TestCLIAddUser(t *testing.T) {
	cli := testCLI()
	mockPassword(t, "Secret123")
	ctx := context.Background()

	if err := cli.run([]string{"admin", "adduser", "-username", "Bob", "-email", "Bob@test.test"}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, "bob")
	if err != nil {
		t.Fatalf("GetByUsernameOrEmail() error = %v", err)
	}
	if !usr.IsStudent() || usr.IsAdmin() {
		t.Errorf("roles = %v, want student only", usr.Roles)
	}
	if err = usr.CheckPassword("Secret123"); err != nil {
		t.Errorf("CheckPassword() error = %v", err)
	}

	// running again promotes and resets the password
	mockPassword(t, "NewSecret1")
	if err = cli.run([]string{"admin", "adduser", "-username", "bob", "-email", "bob@test.test", "-admin"}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	usr, err = cli.usrSvc.GetByUsernameOrEmail(ctx, "bob")
	if err != nil {
		t.Fatalf("GetByUsernameOrEmail() error = %v", err)
	}
	if !usr.IsAdmin() {
		t.Errorf("roles = %v, want admin", usr.Roles)
	}
	if err = usr.CheckPassword("NewSecret1"); err != nil {
		t.Errorf("CheckPassword() error = %v", err)
	}

	// missing flags
	if err = cli.run([]string{"admin", "adduser", "-username", "solo"}); err != errHelp {
		t.Errorf("run() error = %v, want errHelp", err)
	}
}

func TestCLIResetPassword(t *testing.T) {
	cli := testCLI()
	mockPassword(t, "Secret123")
	ctx := context.Background()

	if err := cli.run([]string{"admin", "adduser", "-username", "jane", "-email", "jane@test.test"}); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	mockPassword(t, "Changed123")
	if err := cli.run([]string{"admin", "resetpassword", "-username", "jane@test.test"}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, "jane")
	if err != nil {
		t.Fatalf("GetByUsernameOrEmail() error = %v", err)
	}
	if err = usr.CheckPassword("Changed123"); err != nil {
		t.Errorf("CheckPassword() error = %v", err)
	}

	// unknown user
	if err = cli.run([]string{"admin", "resetpassword", "-username", "ghost"}); err == nil {
		t.Error("run() succeeded for an unknown user")
	}
}

func TestCLIHelp(t *testing.T) {
	cli := testCLI()
	if err := cli.run([]string{"admin"}); err != errHelp {
		t.Errorf("run() error = %v, want errHelp", err)
	}
	if err := cli.run([]string{"admin", "bogus"}); err != errHelp {
		t.Errorf("run() error = %v, want errHelp", err)
	}
}
