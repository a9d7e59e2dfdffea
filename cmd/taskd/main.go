package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"taskd/internal/app"
	"taskd/internal/task"
)

func main() {
	var (
		cfgPath    string
		addTask    string
		listTasks  bool
		runTask    string
		history    string
		removeTask string
		purgeDays  int
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.StringVar(&addTask, "add-task", "", "register a task from a json definition and exit")
	flag.BoolVar(&listTasks, "list-tasks", false, "print registered tasks and exit")
	flag.StringVar(&runTask, "run-task", "", "run the given task immediately and exit")
	flag.StringVar(&history, "history", "", "print recent runs of the given task and exit")
	flag.StringVar(&removeTask, "remove-task", "", "remove the given task and exit")
	flag.IntVar(&purgeDays, "purge", 0, "delete history older than N days and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if oneShot(addTask, listTasks, runTask, history, removeTask, purgeDays) {
		err := runOneShot(ctx, a, addTask, listTasks, runTask, history, removeTask, purgeDays)
		a.Close()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		a.Close()
		os.Exit(1)
	}
	go a.RunWatchdog(ctx)

	<-ctx.Done()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}

func oneShot(addTask string, listTasks bool, runTask, history, removeTask string, purgeDays int) bool {
	return addTask != "" || listTasks || runTask != "" || history != "" || removeTask != "" || purgeDays > 0
}

func runOneShot(ctx context.Context, a *app.App, addTask string, listTasks bool, runTask, history, removeTask string, purgeDays int) error {
	a.LoadTasks(ctx)

	switch {
	case addTask != "":
		t, err := task.ParseDefinition([]byte(addTask))
		if err != nil {
			return err
		}
		if err := a.Scheduler().AddTask(ctx, t); err != nil {
			return err
		}
		fmt.Printf("task %s registered\n", t.ID)

	case removeTask != "":
		if err := a.Scheduler().RemoveTask(ctx, removeTask); err != nil {
			return err
		}
		fmt.Printf("task %s removed\n", removeTask)

	case runTask != "":
		res, err := a.Scheduler().RunNow(ctx, runTask)
		if err != nil {
			return err
		}
		fmt.Printf("task %s: %s (%s)\n", runTask, res.Status, res.Duration.Round(time.Millisecond))
		if res.Output != "" {
			fmt.Println(res.Output)
		}
		if res.Error != "" {
			fmt.Println("error:", res.Error)
		}

	case listTasks:
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tENABLED\tLAST RUN\tNEXT RUN")
		for _, s := range a.Scheduler().Status() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
				s.ID, s.Name, s.Schedule, s.Enabled,
				formatTime(s.LastRun), formatTime(s.NextRun))
		}
		w.Flush()

	case history != "":
		results, err := a.Store().RecentResults(ctx, history, 20)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "START\tSTATUS\tDURATION\tERROR")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				r.StartTime.Format(time.RFC3339), r.Status,
				r.Duration.Round(time.Millisecond), r.Error)
		}
		w.Flush()

	case purgeDays > 0:
		n, err := a.Store().Purge(ctx, time.Duration(purgeDays)*24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d history rows\n", n)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
