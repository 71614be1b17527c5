package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/matheus3301/wppdash/internal/config"
	"github.com/matheus3301/wppdash/internal/profile"
)

func main() {
	addrFlag := flag.String("addr", "", "daemon address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output raw JSON")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	addr := *addrFlag
	if addr == "" {
		cfg, err := config.Load(profile.ConfigPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		addr = cfg.HTTP.Listen
	}
	c := &ctl{base: "http://" + addr, jsonOut: *jsonFlag}

	switch args[0] {
	case "sessions":
		if len(args) >= 2 && args[1] == "create" {
			if len(args) < 3 {
				fatalUsage("wppdashctl sessions create <id>")
			}
			c.post("/api/sessions", map[string]string{"sessionId": args[2]})
		} else {
			c.get("/api/sessions")
		}
	case "logout":
		if len(args) < 2 {
			fatalUsage("wppdashctl logout <session-id>")
		}
		c.post("/api/sessions/"+args[1]+"/logout", map[string]bool{"confirm": true})
	case "select":
		switch len(args) {
		case 2:
			c.post("/api/sessions/"+args[1]+"/select", nil)
		case 3:
			c.post("/api/sessions/"+args[1]+"/conversations/"+args[2]+"/select", nil)
		default:
			fatalUsage("wppdashctl select <session-id> [conversation-id]")
		}
	case "chats":
		if len(args) < 2 {
			fatalUsage("wppdashctl chats <session-id>")
		}
		c.get("/api/sessions/" + args[1] + "/conversations")
	case "messages":
		if len(args) < 3 {
			fatalUsage("wppdashctl messages <session-id> <conversation-id>")
		}
		c.get("/api/sessions/" + args[1] + "/conversations/" + args[2] + "/messages")
	case "call":
		if len(args) < 2 {
			c.get("/api/call")
			return
		}
		switch args[1] {
		case "start":
			if len(args) < 3 {
				fatalUsage("wppdashctl call start <peer-id> [name]")
			}
			name := ""
			if len(args) >= 4 {
				name = args[3]
			}
			c.post("/api/call/start", map[string]any{"peerId": args[2], "name": name, "video": true})
		case "accept":
			c.post("/api/call/accept", nil)
		case "end":
			c.post("/api/call/end", nil)
		default:
			fatalUsage("wppdashctl call [start|accept|end]")
		}
	case "notice":
		if len(args) < 2 {
			c.get("/api/notice")
			return
		}
		switch args[1] {
		case "dismiss":
			c.post("/api/notice/dismiss", nil)
		case "click":
			c.post("/api/notice/click", nil)
		default:
			fatalUsage("wppdashctl notice [dismiss|click]")
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wppdashctl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  sessions                      List sessions")
	fmt.Fprintln(os.Stderr, "  sessions create <id>          Create a session")
	fmt.Fprintln(os.Stderr, "  logout <id>                   Log a session out")
	fmt.Fprintln(os.Stderr, "  select <id> [conversation]    Select a session or conversation")
	fmt.Fprintln(os.Stderr, "  chats <id>                    List conversations")
	fmt.Fprintln(os.Stderr, "  messages <id> <conversation>  List messages")
	fmt.Fprintln(os.Stderr, "  call [start|accept|end]       Show or control the active call")
	fmt.Fprintln(os.Stderr, "  notice [dismiss|click]        Show or clear the active notice")
}

func fatalUsage(usage string) {
	fmt.Fprintln(os.Stderr, "usage: "+usage)
	os.Exit(1)
}

type ctl struct {
	base    string
	jsonOut bool
}

func (c *ctl) get(path string) {
	c.do(http.MethodGet, path, nil)
}

func (c *ctl) post(path string, body any) {
	c.do(http.MethodPost, path, body)
}

func (c *ctl) do(method, path string, body any) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", c.base, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "error (%d): %s\n", resp.StatusCode, bytes.TrimSpace(data))
		os.Exit(1)
	}
	if c.jsonOut {
		fmt.Println(string(bytes.TrimSpace(data)))
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(pretty.String())
}
