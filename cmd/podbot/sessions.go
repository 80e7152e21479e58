package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/podbot/internal/capturelog"
	"github.com/MrWong99/podbot/internal/session"
)

const timeLayout = "2006-01-02 15:04:05"

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return listSessions(cmd.OutOrStdout(), cfg.Capture.Directory)
		},
	}
}

func listSessions(w io.Writer, root string) error {
	sessions, err := session.List(root)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintf(w, "No sessions in %s\n", root)
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		logs, mix := inspectSession(s.Dir)
		rows = append(rows, []string{
			s.Name(),
			s.ChannelID,
			s.Start().Local().Format(timeLayout),
			strconv.Itoa(logs),
			yesNo(mix),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Session", "Channel", "Started", "Capture logs", "Processed"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	return nil
}

// inspectSession counts the capture logs of dir and reports whether a mix
// was written.
func inspectSession(dir string) (logs int, mixed bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, false
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case filepath.Ext(name) == capturelog.CaptureExt:
			logs++
		case strings.HasPrefix(name, "mix-"):
			mixed = true
		}
	}
	return logs, mixed
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
