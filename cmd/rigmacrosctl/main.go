package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/dougsko/rigmacros/pkg/client"
	"github.com/dougsko/rigmacros/pkg/logging"
	"github.com/dougsko/rigmacros/pkg/protocol"
)

var (
	socketPath = flag.StringP("socket", "s", "/tmp/rigmacros.sock", "Unix socket path")
	command    = flag.StringP("cmd", "c", "", "Command to send (e.g., 'STATUS', 'TTS:n9oh')")
	raw        = flag.BoolP("raw", "r", false, "Print the JSON response as received")
	timeout    = flag.DurationP("timeout", "t", 5*time.Second, "Timeout for short commands")
)

func main() {
	flag.Parse()

	if *socketPath == "" {
		fmt.Fprintf(os.Stderr, "Socket path is required\n")
		os.Exit(1)
	}

	// If no command specified, show interactive help
	if *command == "" {
		if len(flag.Args()) > 0 {
			*command = strings.Join(flag.Args(), " ")
		} else {
			showHelp(os.Stdout)
			return
		}
	}

	c := client.NewSocketClient(*socketPath)
	c.SetTimeout(*timeout)

	if err := run(c, *command, *raw, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run sends line and prints the reply. KEY and TTS wait for the whole
// transmission.
func run(c *client.SocketClient, line string, raw bool, out io.Writer) error {
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		return err
	}

	if cmd.Type == protocol.CmdKey || cmd.Type == protocol.CmdTTS {
		c.SetTimeout(client.KeyTimeout)
	}

	resp, err := c.SendCommand(line)
	if err != nil {
		return err
	}

	if raw {
		fmt.Fprintln(out, resp.String())
	} else {
		printResponse(out, cmd, resp)
	}

	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

// printResponse renders the reply the way the operator panel shows it
func printResponse(out io.Writer, cmd *protocol.Command, resp *protocol.Response) {
	if !resp.Success {
		return
	}

	switch cmd.Type {
	case protocol.CmdStatus:
		var st protocol.Status
		if err := resp.Decode("status", &st); err != nil {
			fmt.Fprintln(out, resp.String())
			return
		}
		fmt.Fprintln(out, st.Rig)
		if st.VFOB != "" {
			fmt.Fprintln(out, st.VFOB)
		}
		fmt.Fprintf(out, "Status:    %s\n", st.Message)
		fmt.Fprintf(out, "PTT:       %s (line %s)\n", onOff(st.PTT), openClosed(st.LineOpen))
		fmt.Fprintf(out, "Recording: %s\n", st.Recording)
		fmt.Fprintf(out, "Uptime:    %s (v%s)\n", st.Uptime, st.Version)

	case protocol.CmdLog:
		var entries []logging.JournalEntry
		if err := resp.Decode("entries", &entries); err != nil {
			fmt.Fprintln(out, resp.String())
			return
		}
		for _, e := range entries {
			fmt.Fprintln(out, e.String())
		}

	default:
		if msg, ok := resp.Data["message"].(string); ok && len(resp.Data) == 1 {
			fmt.Fprintln(out, msg)
			return
		}
		fmt.Fprintln(out, resp.String())
	}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

func openClosed(b bool) string {
	if b {
		return "open"
	}
	return "closed"
}

func showHelp(out io.Writer) {
	fmt.Fprintln(out, "rigmacrosctl - transceiver macro daemon control tool")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintf(out, "  %s [options] <command>\n", os.Args[0])
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Options:")
	fmt.Fprint(out, flag.CommandLine.FlagUsages())
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  STATUS                    Get daemon status")
	fmt.Fprintln(out, "  RIG                       Get the latest rig snapshot")
	fmt.Fprintln(out, "  KEY:<memory>              Play a rig voice memory (T1, T2)")
	fmt.Fprintln(out, "  TTS:<prompt>              Transmit a synthesized prompt")
	fmt.Fprintln(out, "  PROMPTS                   List prompts and render state")
	fmt.Fprintln(out, "  RERENDER:<prompt>         Render a prompt again")
	fmt.Fprintln(out, "  FREQ:<hz>:<mode>          Tune VFO A and set the mode")
	fmt.Fprintln(out, "  BAND:<cw|ssb>:<band>      Apply a band preset")
	fmt.Fprintln(out, "  SPLIT | VFO | COPYAB      Toggle split, swap VFO, copy A to B")
	fmt.Fprintln(out, "  REC:START|STOP|PLAY       Control the QSO recorder")
	fmt.Fprintln(out, "  REC:SAVE[:<path>]         Save the stopped recording")
	fmt.Fprintln(out, "  REC:DELETE[:CONFIRM]      Delete the recording")
	fmt.Fprintln(out, "  LOG[:<n>]                 Show the diagnostic log")
	fmt.Fprintln(out, "  HISTORY[:<n>]             Show keying history")
	fmt.Fprintln(out, "  PING                      Test connection")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Examples:")
	fmt.Fprintf(out, "  %s TTS:n9oh\n", os.Args[0])
	fmt.Fprintf(out, "  %s BAND:ssb:20m\n", os.Args[0])
	fmt.Fprintf(out, "  echo 'STATUS' | nc -U /tmp/rigmacros.sock\n")
}
