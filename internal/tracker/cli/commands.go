package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/servicetracker/internal/credstore"
	"github.com/dmitrijs2005/servicetracker/internal/prompt"
	"github.com/dmitrijs2005/servicetracker/internal/records"
	"github.com/dmitrijs2005/servicetracker/internal/syncstate"
	"github.com/dmitrijs2005/servicetracker/internal/tracker"
)

func (a *App) ask(label string) (string, error) {
	return prompt.Line(a.reader, label, a.out)
}

func (a *App) students(ctx context.Context) error {
	names, err := a.service.Students(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		a.println("No students yet")
	}
	for _, n := range names {
		a.println(n)
	}
	return nil
}

func (a *App) addStudent(ctx context.Context, args []string) error {
	name := strings.Join(args, " ")
	if name == "" {
		var err error
		if name, err = a.ask("Student name"); err != nil {
			return err
		}
	}
	if err := a.service.AddStudent(ctx, name); err != nil {
		return err
	}
	a.println("Added", strings.TrimSpace(name))
	return nil
}

func (a *App) scan(ctx context.Context, args []string) error {
	raw := strings.Join(args, " ")
	if raw == "" {
		var err error
		if raw, err = a.ask("Scanned text"); err != nil {
			return err
		}
	}

	c, err := a.service.Scan(ctx, raw)
	if err != nil {
		return err
	}
	for _, w := range c.Warnings {
		a.println("warning:", w.String())
	}
	if len(c.Extra) > 0 {
		a.println("not stored:", strings.Join(c.Extra, ", "))
	}
	a.printCapture(c)
	return nil
}

func (a *App) printCapture(c tracker.Capture) {
	if !c.Inserted {
		a.printf("Already recorded: %s %s at %s\n", c.Record.Student, c.Record.Service, c.Record.Timestamp)
		return
	}
	a.printf("Saved: %s %s at %s\n", c.Record.Student, c.Record.Service, c.Record.Timestamp)
}

func (a *App) logRecord(ctx context.Context) error {
	var f records.Fields
	var err error

	if f.Student, err = a.ask("Student"); err != nil {
		return err
	}
	if f.Service, err = a.ask("Service"); err != nil {
		return err
	}
	dur, err := a.ask("Duration (minutes)")
	if err != nil {
		return err
	}
	f.Duration = records.ParseNumber(dur)
	if f.Event, err = a.ask("Event"); err != nil {
		return err
	}
	score, err := a.ask("Score (%)")
	if err != nil {
		return err
	}
	f.Score = records.ParseNumber(score)
	if f.GoalID, err = a.ask("Goal id"); err != nil {
		return err
	}

	c, err := a.service.Log(ctx, f)
	if err != nil {
		return err
	}
	a.printCapture(c)
	return nil
}

// splitScope reads "[student] [all|new] [-- student]" style arguments.
// Everything after "--" is the student name, so a student called "all" or
// "new" can still be selected.
func splitScope(args []string, def string) (student, mode string) {
	mode = def
	var name []string
	for i, arg := range args {
		switch arg {
		case "--":
			name = append(name, args[i+1:]...)
			return strings.Join(name, " "), mode
		case "all", "new":
			mode = arg
		default:
			name = append(name, arg)
		}
	}
	return strings.Join(name, " "), mode
}

func (a *App) list(ctx context.Context, args []string) error {
	student, mode := splitScope(args, "all")
	recs, err := a.service.List(ctx, student, mode == "new")
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		a.println("No records")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tSTUDENT\tSERVICE\tMIN\tEVENT\tSCORE\tGOAL\tSENT")
	for _, r := range recs {
		sent := ""
		if r.Reported {
			sent = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Timestamp, r.Student, r.Service, records.FormatNumber(r.Duration),
			r.Event, records.FormatNumber(r.Score), r.GoalID, sent)
	}
	return tw.Flush()
}

func (a *App) accessToken() (string, error) {
	if a.config.AccessToken != "" {
		return a.config.AccessToken, nil
	}
	return credstore.Lookup(a.creds, credstore.KeyCollectorToken)
}

func (a *App) send(ctx context.Context, args []string) error {
	student, mode := splitScope(args, "new")

	token, err := a.accessToken()
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("no collector access token; use 'token <value>'")
	}

	client, err := a.dial(a.config.CollectorAddr, token)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, a.config.SendTimeout)
	defer cancel()

	file := fmt.Sprintf("%s_%s.csv", a.config.DeviceID, time.Now().Format("20060102_150405"))
	res, err := a.service.Send(ctx, client.Sender(file), a.config.CollectorAddr, student, mode == "all")
	if errors.Is(err, syncstate.ErrNothingToSend) {
		a.println("Nothing to send")
		return nil
	}
	if err != nil {
		return err
	}
	a.printf("Sent %d records, %d newly marked as reported\n", res.Sent, res.Marked)
	return nil
}

func (a *App) backup(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: backup <file>")
	}
	n, err := a.service.Backup(ctx, args[0])
	if err != nil {
		return err
	}
	a.printf("Wrote %d records to %s\n", n, args[0])
	return nil
}

func (a *App) payload(ctx context.Context) error {
	var spec records.PayloadSpec

	typ, err := a.ask("Type (service, goal, behavior)")
	if err != nil {
		return err
	}
	spec.Type = records.PayloadType(strings.ToLower(typ))
	if spec.Student, err = a.ask("Student"); err != nil {
		return err
	}
	if spec.Service, err = a.ask("Service"); err != nil {
		return err
	}
	dur, err := a.ask("Default duration (minutes, blank for 30)")
	if err != nil {
		return err
	}
	if dur != "" {
		if spec.DefaultDuration, err = strconv.Atoi(dur); err != nil {
			return fmt.Errorf("bad duration %q", dur)
		}
	}
	if spec.Type == records.PayloadGoal {
		if spec.GoalID, err = a.ask("Goal id"); err != nil {
			return err
		}
	}
	if spec.Type == records.PayloadBehavior {
		if spec.Event, err = a.ask("Event"); err != nil {
			return err
		}
	}

	protect := false
	if has, err := a.service.HasPIN(); err == nil && has {
		ans, err := a.ask("Protect with PIN? (y/n)")
		if err != nil {
			return err
		}
		protect = strings.HasPrefix(strings.ToLower(ans), "y")
	}

	text, err := a.service.Payload(ctx, spec, protect)
	if err != nil {
		return err
	}
	a.println(text)
	return nil
}

func (a *App) pin(args []string) error {
	sub := "status"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "set":
		p, err := prompt.PIN(a.out)
		if err != nil {
			return err
		}
		if err := a.service.SetPIN(p); err != nil {
			return err
		}
		a.println("PIN saved")
	case "clear":
		if err := a.service.ClearPIN(); err != nil {
			return err
		}
		a.println("PIN cleared")
	case "status":
		has, err := a.service.HasPIN()
		if err != nil {
			return err
		}
		if has {
			a.println("PIN is set")
		} else {
			a.println("PIN is not set")
		}
	default:
		return errors.New("usage: pin set|clear|status")
	}
	return nil
}

func (a *App) token(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: token <value>")
	}
	if err := a.creds.Set(credstore.KeyCollectorToken, args[0]); err != nil {
		return err
	}
	a.println("Access token saved")
	return nil
}

func (a *App) status(ctx context.Context) error {
	total, unreported, err := a.service.Counts(ctx)
	if err != nil {
		return err
	}
	last, err := a.service.LastRecipient(ctx)
	if err != nil {
		return err
	}
	a.printf("Device: %s\nRecords: %d (%d not reported)\nCollector: %s\n", a.config.DeviceID, total, unreported, a.config.CollectorAddr)
	if last != "" {
		a.printf("Last sent to: %s\n", last)
	}
	return nil
}
