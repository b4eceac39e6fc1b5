package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/sid3xyz/irctest/internal/client"
	"github.com/sid3xyz/irctest/internal/controller"
	"github.com/sid3xyz/irctest/pkg/logging"
)

var (
	consoleServerBin string
	consoleBasePort  int
	consoleTLS       bool
	consolePassword  string
	consoleFaketime  string
	consoleDebug     bool
	consoleKeepTemp  bool
)

// consoleCmd represents the console command
var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Talk to a managed server instance interactively",
	Long: `The console command spawns a single server instance the same way the
run command does, connects one client to it, and gives you a raw
protocol prompt. Lines you type are sent verbatim; everything the
server sends back is printed as it arrives.

This is useful for exploring a server's behavior before scripting it
into a scenario.

Console commands (everything else is sent as a raw protocol line):
  /help         Show available commands
  /register N   Send NICK/USER for nickname N
  /quit         Tear the instance down and exit

Example usage:
  irctest console --server-bin=./slircd
  irctest console --server-bin=./slircd --tls --faketime=+5d`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)

	consoleCmd.Flags().StringVar(&consoleServerBin, "server-bin", "", "Path to the server binary under test (required)")
	_ = consoleCmd.MarkFlagRequired("server-bin")

	consoleCmd.Flags().IntVar(&consoleBasePort, "base-port", 18000, "Starting port number for the server instance")
	consoleCmd.Flags().BoolVar(&consoleTLS, "tls", false, "Connect to the encrypted listener")
	consoleCmd.Flags().StringVar(&consolePassword, "password", "", "Require a connection password in the generated config")
	consoleCmd.Flags().StringVar(&consoleFaketime, "faketime", "", "Run the server under a clock offset, e.g. +5d")
	consoleCmd.Flags().BoolVar(&consoleDebug, "debug", false, "Enable debug logging")
	consoleCmd.Flags().BoolVar(&consoleKeepTemp, "keep-temp-config", false, "Keep the instance working directory after exit")
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if consoleDebug {
		logging.Init(logging.LevelDebug, os.Stderr)
	} else {
		logging.Init(logging.LevelWarn, os.Stderr)
	}

	if _, err := os.Stat(consoleServerBin); err != nil {
		return fmt.Errorf("server binary not found: %w", err)
	}

	manager, err := controller.NewManager(consoleServerBin, consoleBasePort, consoleKeepTemp)
	if err != nil {
		return fmt.Errorf("failed to create instance manager: %w", err)
	}
	defer func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cleanupCancel()
		manager.Close(cleanupCtx)
	}()

	opts := controller.Options{
		TLS:      consoleTLS,
		Password: consolePassword,
		Faketime: consoleFaketime,
	}

	fmt.Printf("🏗️  Starting server instance...\n")
	instance, err := manager.CreateInstance(ctx, "console", opts)
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}

	if err := manager.WaitForReady(ctx, instance); err != nil {
		return fmt.Errorf("server instance not ready: %w", err)
	}
	fmt.Printf("✅ Server ready at %s (config in %s)\n", instance.Addr, instance.Dir)

	conn, err := dialConsole(instance)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	// Print server traffic as it arrives, interleaved with the prompt.
	go func() {
		for {
			msg, err := conn.ReadMessage(time.Second)
			if errors.Is(err, client.ErrTimeout) {
				continue
			}
			if err != nil {
				fmt.Printf("\n🔌 Connection closed: %v\n", err)
				return
			}
			fmt.Printf("\r⬅  %s\n", msg.Line())
		}
	}()

	historyFile := filepath.Join(os.TempDir(), ".irctest_console_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "irc> ",
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "/quit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()

	fmt.Println("Type raw protocol lines, or /help for console commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			fmt.Println("Goodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			done, err := consoleCommand(conn, input)
			if err != nil {
				fmt.Printf("❌ %v\n", err)
			}
			if done {
				fmt.Println("Goodbye!")
				return nil
			}
			continue
		}

		if err := conn.SendLine(input); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
	}
}

func dialConsole(instance *controller.Instance) (*client.Conn, error) {
	if consoleTLS {
		// The instance certificate is self-signed per run.
		return client.DialTLS(instance.TLSAddr, &tls.Config{InsecureSkipVerify: true}, 5*time.Second)
	}
	return client.Dial(instance.Addr, 5*time.Second)
}

// consoleCommand handles a /-prefixed console command. It returns true when
// the console should exit.
func consoleCommand(conn *client.Conn, input string) (bool, error) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Println("  /register <nick>  Send NICK and USER for the given nickname")
		fmt.Println("  /quit             Tear the instance down and exit")
		fmt.Println("  anything else is sent to the server verbatim")
		return false, nil
	case "/register":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /register <nick>")
		}
		nick := fields[1]
		if err := conn.SendLine("NICK " + nick); err != nil {
			return false, err
		}
		return false, conn.SendLine(fmt.Sprintf("USER %s 0 * :%s", nick, nick))
	default:
		return false, fmt.Errorf("unknown command %q, try /help", fields[0])
	}
}
