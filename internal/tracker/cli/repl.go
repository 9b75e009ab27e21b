package cli

import (
	"context"
	"errors"
	"io"
	"strings"
)

const helpText = `Available commands:
  students                       list students
  addstudent <name>              add a student
  scan [payload]                 store the record in a scanned code
  log                            enter a record by hand
  list [student] [new]           show records
  send [student] [all|new]       report records to the collector
                                 (put the name after -- when it is "all" or "new")
  backup <file>                  write all records to a CSV file
  payload                        build a code payload
  pin set|clear|status           manage the envelope PIN
  token <value>                  store the collector access token
  status                         record counts and settings
  exit | quit`

// repl reads commands until EOF or exit. Command errors are printed and
// the loop continues.
func (a *App) repl(ctx context.Context) {
	for {
		a.printf("tracker> ")
		line, err := a.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			a.println()
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		args := parts[1:]
		if freeText[parts[0]] {
			args = restOfLine(line, parts[0])
		}

		quit, cmdErr := a.exec(ctx, parts[0], args)
		if cmdErr != nil {
			a.println("error:", cmdErr)
		}
		if quit || err != nil {
			return
		}
	}
}

// freeText lists commands whose argument is the rest of the line as typed.
// A scanned code must reach the store byte for byte.
var freeText = map[string]bool{"scan": true, "addstudent": true}

func restOfLine(line, cmd string) []string {
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), cmd))
	if rest == "" {
		return nil
	}
	return []string{rest}
}

// exec runs one command. It reports true when the session should end.
func (a *App) exec(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "?":
		a.println(helpText)
	case "students":
		return false, a.students(ctx)
	case "addstudent":
		return false, a.addStudent(ctx, args)
	case "scan":
		return false, a.scan(ctx, args)
	case "log":
		return false, a.logRecord(ctx)
	case "l", "list":
		return false, a.list(ctx, args)
	case "send":
		return false, a.send(ctx, args)
	case "backup":
		return false, a.backup(ctx, args)
	case "payload":
		return false, a.payload(ctx)
	case "pin":
		return false, a.pin(args)
	case "token":
		return false, a.token(args)
	case "status":
		return false, a.status(ctx)
	case "exit", "quit":
		a.println("Bye!")
		return true, nil
	default:
		return false, errors.New("unknown command: " + cmd)
	}
	return false, nil
}
