package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"focusd/internal/ipc"
)

var rootCmd = &cobra.Command{
	Use:   "focusd-cli",
	Short: "CLI tool to interact with the focusd daemon",
	Long:  `A command-line interface to control focus sessions and inspect stats via the running focusd daemon's Unix socket.`,
}

// --- Client Helper Functions ---

// send performs one request/response round trip over the socket.
func send(cmd ipc.Command) (ipc.Response, error) {
	conn, err := net.DialTimeout("unix", ipc.SocketPath, 2*time.Second)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("connecting to daemon socket (%s): %w (is focusd running?)", ipc.SocketPath, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return ipc.Response{}, fmt.Errorf("sending command: %w", err)
	}

	var resp ipc.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return ipc.Response{}, fmt.Errorf("receiving response: %w", err)
	}
	return resp, nil
}

// sendOrDie sends the command and pretty-prints the outcome, exiting
// non-zero on any failure.
func sendOrDie(cmd ipc.Command) ipc.Response {
	resp, err := send(cmd)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if !resp.OK {
		fmt.Fprintf(os.Stderr, "Error: %s\n", resp.Err)
		os.Exit(1)
	}
	return resp
}

func printData(data interface{}) {
	if data == nil {
		return
	}
	pretty, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Println(data)
		return
	}
	fmt.Println(string(pretty))
}

// decodeData re-marshals the generic response payload into a typed struct.
func decodeData(resp ipc.Response, into interface{}) error {
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, into)
}

// --- Command Definitions ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the focusd daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		sendOrDie(ipc.Command{Action: ipc.ActionPing})
		fmt.Println("pong")
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a focus session",
	Run: func(cmd *cobra.Command, args []string) {
		minutes, _ := cmd.Flags().GetInt("minutes")
		preset, _ := cmd.Flags().GetString("preset")
		passcode, _ := cmd.Flags().GetString("passcode")
		if minutes == 0 && preset == "" {
			log.Fatal("Error: either --minutes or --preset is required")
		}
		resp := sendOrDie(ipc.Command{
			Action: ipc.ActionStartSession,
			Args: ipc.StartSessionArgs{
				DurationMinutes: minutes,
				Passcode:        passcode,
				Preset:          preset,
			},
		})
		var st ipc.StateData
		if err := decodeData(resp, &st); err == nil {
			fmt.Printf("Focus session started, ends at %s\n", st.Session.EndTime.Local().Format("15:04:05"))
		} else {
			fmt.Println("Focus session started")
		}
	},
}

var endCmd = &cobra.Command{
	Use:   "end",
	Short: "End the current focus session early (forfeits rewards)",
	Run: func(cmd *cobra.Command, args []string) {
		passcode, _ := cmd.Flags().GetString("passcode")
		sendOrDie(ipc.Command{
			Action: ipc.ActionEndSession,
			Args:   ipc.EndSessionArgs{Passcode: passcode},
		})
		fmt.Println("Session ended")
	},
}

var breakCmd = &cobra.Command{
	Use:   "break",
	Short: "Take the one emergency break (2 minutes, once per session)",
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendOrDie(ipc.Command{Action: ipc.ActionEmergencyBreak})
		var st ipc.StateData
		if err := decodeData(resp, &st); err == nil {
			fmt.Printf("Emergency break until %s\n", st.Session.BreakEnd.Local().Format("15:04:05"))
		} else {
			fmt.Println("Emergency break started")
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session and activity state",
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendOrDie(ipc.Command{Action: ipc.ActionGetState})
		printData(resp.Data)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cumulative stats, streak, level and focus history",
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendOrDie(ipc.Command{Action: ipc.ActionGetStats})
		printData(resp.Data)
	},
}

var badgesCmd = &cobra.Command{
	Use:   "badges",
	Short: "Re-check badge unlocks and list earned badges",
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendOrDie(ipc.Command{Action: ipc.ActionCheckBadges})
		var b ipc.BadgeData
		if err := decodeData(resp, &b); err != nil {
			printData(resp.Data)
			return
		}
		if len(b.NewBadges) > 0 {
			fmt.Printf("Newly unlocked: %s\n", strings.Join(b.NewBadges, ", "))
		}
		if len(b.Badges) == 0 {
			fmt.Println("No badges earned yet.")
			return
		}
		fmt.Printf("Earned badges (%d): %s\n", len(b.Badges), strings.Join(b.Badges, ", "))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Check whether session starting is disabled by the remote policy",
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendOrDie(ipc.Command{Action: ipc.ActionCheckVersionStatus})
		var v ipc.VersionData
		if err := decodeData(resp, &v); err != nil {
			printData(resp.Data)
			return
		}
		if v.Blocked {
			fmt.Printf("BLOCKED: %s\n", v.Message)
			os.Exit(1)
		}
		fmt.Println("OK: session starting is allowed")
	},
}

// --- Dashboard ---

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live terminal dashboard of the current session and stats",
	Run: func(cmd *cobra.Command, args []string) {
		runDashboard()
	},
}

func fetchState() (ipc.StateData, ipc.StatsData, error) {
	var st ipc.StateData
	var stats ipc.StatsData

	resp, err := send(ipc.Command{Action: ipc.ActionGetState})
	if err != nil {
		return st, stats, err
	}
	if !resp.OK {
		return st, stats, fmt.Errorf("%s", resp.Err)
	}
	if err := decodeData(resp, &st); err != nil {
		return st, stats, err
	}

	resp, err = send(ipc.Command{Action: ipc.ActionGetStats})
	if err != nil {
		return st, stats, err
	}
	if err := decodeData(resp, &stats); err != nil {
		return st, stats, err
	}
	return st, stats, nil
}

func renderDashboard(st ipc.StateData, stats ipc.StatsData) string {
	var b strings.Builder

	b.WriteString("[::b]Session[::-]\n")
	switch {
	case st.Session.OnBreak:
		b.WriteString(fmt.Sprintf("  [yellow]ON BREAK[-] until %s\n", st.Session.BreakEnd.Local().Format("15:04:05")))
	case st.Session.Active:
		remaining := time.Until(st.Session.EndTime).Round(time.Second)
		if remaining < 0 {
			remaining = 0
		}
		b.WriteString(fmt.Sprintf("  [green]FOCUSING[-]  %s remaining (blocked attempts: %d)\n",
			remaining, st.Session.BlockedCount))
	default:
		b.WriteString("  [gray]idle[-]\n")
	}

	b.WriteString("\n[::b]Activity[::-]\n")
	if st.Activity.ActivityType != "" {
		b.WriteString(fmt.Sprintf("  %s  %s\n", st.Activity.ActivityType, st.Activity.ActivityDetails))
	} else {
		b.WriteString("  (none)\n")
	}

	b.WriteString("\n[::b]Progress[::-]\n")
	b.WriteString(fmt.Sprintf("  Level %d  (%d pts)   Streak: %d (best %d)\n",
		stats.Profile.Level, stats.Profile.Points, stats.Streak.Current, stats.Streak.Longest))
	b.WriteString(fmt.Sprintf("  Sessions: %d   Total focus: %dh %dm   Badges: %d\n",
		stats.Stats.SessionsCompleted,
		stats.Stats.TotalFocusTimeMinutes/60, stats.Stats.TotalFocusTimeMinutes%60,
		len(stats.Profile.Badges)))
	if st.PendingSync {
		b.WriteString("  [red]sync pending[-]\n")
	}

	if len(stats.History) > 0 {
		b.WriteString("\n[::b]Recent days[::-]\n")
		dates := make([]string, 0, len(stats.History))
		for d := range stats.History {
			dates = append(dates, d)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(dates)))
		if len(dates) > 7 {
			dates = dates[:7]
		}
		for _, d := range dates {
			b.WriteString(fmt.Sprintf("  %s  %3d min\n", d, stats.History[d]))
		}
	}

	b.WriteString("\n[gray]q to quit[-]")
	return b.String()
}

func runDashboard() {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBorder(true).SetTitle(" focusd ")

	app := tview.NewApplication().SetRoot(tv, true)

	tv.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' || event.Key() == tcell.KeyEscape {
			app.Stop()
			return nil
		}
		return event
	})

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			st, stats, err := fetchState()
			var text string
			if err != nil {
				text = fmt.Sprintf("[red]%v[-]\n\n[gray]q to quit[-]", err)
			} else {
				text = renderDashboard(st, stats)
			}
			app.QueueUpdateDraw(func() { tv.SetText(text) })
			select {
			case <-ticker.C:
			case <-stop:
				return
			}
		}
	}()

	if err := app.Run(); err != nil {
		log.Fatalf("Dashboard error: %v", err)
	}
	close(stop)
}

func main() {
	startCmd.Flags().IntP("minutes", "m", 0, "Session duration in minutes (minimum 15)")
	startCmd.Flags().StringP("preset", "p", "", "Named preset from the config (e.g. pomodoro, deep, marathon)")
	startCmd.Flags().String("passcode", "", "Optional passcode required to end the session early")

	endCmd.Flags().String("passcode", "", "Passcode set at session start, if any")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(endCmd)
	rootCmd.AddCommand(breakCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(badgesCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(pingCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
