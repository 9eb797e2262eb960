// Command agrictl provides CLI tools for operating a mesh of
// agricultural nodes through any one node's HTTP front door.
//
// # Commands
//
// nodes: List the mesh as the contacted node sees it.
//
//	agrictl nodes --addr=http://10.0.0.5:8080
//
// read: Fetch the current sensor snapshot of a node.
//
//	agrictl read --addr=http://10.0.0.5:8080 --node=42
//
// control: Switch a node's irrigation relay.
//
//	agrictl control --addr=http://10.0.0.5:8080 --node=42 --action=on
//
// history, files, fetch: Pull logged readings and data files, locally
// or over the relay. resolve: probe a node's advertised addresses and
// print the reachable one. discover: trigger an immediate announce.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IsuHapu/smart-agri-project-sub000/registry"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "nodes":
		err = runSimple(args, "/api/mesh-nodes", http.MethodGet)
	case "read":
		err = runSimple(args, "/api/data", http.MethodGet)
	case "control":
		err = runControl(args)
	case "history":
		err = runHistory(args)
	case "files":
		err = runSimple(args, "/api/files", http.MethodGet)
	case "fetch":
		err = runFetch(args)
	case "resolve":
		err = runResolve(args)
	case "discover":
		err = runSimple(args, "/api/discover", http.MethodPost)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`agrictl - operate an agricultural node mesh

Usage:
  agrictl <command> [options]

Commands:
  nodes     List known mesh nodes
  read      Fetch a node's current sensor snapshot
  control   Switch a node's irrigation relay (--action=on|off|toggle)
  history   Fetch logged readings (--hours=N)
  files     List a node's data files
  fetch     Download one data file (--name=...)
  resolve   Find a node's reachable front-door address (--port=N)
  discover  Trigger an immediate discovery announce

Common options:
  --addr, -a   Front door base URL (default: http://localhost:8080)
  --node, -n   Target node id; relayed over the mesh when it is not
               the contacted node itself

Run 'agrictl <command> --help' for command-specific options.`)
}

// cliOptions are the flags shared by every subcommand.
type cliOptions struct {
	addr   string
	nodeID string
	rest   map[string]string
	help   bool
}

func parseArgs(args []string, valueFlags ...string) cliOptions {
	opts := cliOptions{addr: "http://localhost:8080", rest: map[string]string{}}

	takesValue := map[string]string{"--addr": "addr", "-a": "addr", "--node": "node", "-n": "node"}
	for _, f := range valueFlags {
		takesValue["--"+f] = f
	}

	for i := 0; i < len(args); i++ {
		if args[i] == "--help" || args[i] == "-h" {
			opts.help = true
			continue
		}
		name, ok := takesValue[args[i]]
		if !ok {
			continue
		}
		i++
		if i >= len(args) {
			break
		}
		switch name {
		case "addr":
			opts.addr = args[i]
		case "node":
			opts.nodeID = args[i]
		default:
			opts.rest[name] = args[i]
		}
	}
	return opts
}

// apiURL routes a call to the contacted node or through the relay.
func apiURL(opts cliOptions, apiPath, query string) string {
	base := strings.TrimSuffix(opts.addr, "/")
	if opts.nodeID != "" {
		apiPath = "/api/remote/" + opts.nodeID + strings.TrimPrefix(apiPath, "/api")
	}
	if query != "" {
		apiPath += "?" + query
	}
	return base + apiPath
}

func runSimple(args []string, apiPath, method string) error {
	opts := parseArgs(args)
	if opts.help {
		printUsage()
		return nil
	}
	return call(method, apiURL(opts, apiPath, ""))
}

func runControl(args []string) error {
	opts := parseArgs(args, "action")
	if opts.help {
		fmt.Println(`agrictl control - switch a node's irrigation relay

Usage:
  agrictl control --node=<id> --action=on|off|toggle [--addr=<url>]`)
		return nil
	}

	action := opts.rest["action"]
	if action == "" {
		return fmt.Errorf("--action is required (on, off, or toggle)")
	}
	return call(http.MethodPost, apiURL(opts, "/api/control", "action="+action))
}

func runHistory(args []string) error {
	opts := parseArgs(args, "hours")
	if opts.help {
		fmt.Println(`agrictl history - fetch logged readings

Usage:
  agrictl history [--node=<id>] [--hours=<n>] [--addr=<url>]`)
		return nil
	}

	query := ""
	if hours := opts.rest["hours"]; hours != "" {
		query = "hours=" + hours
	}
	return call(http.MethodGet, apiURL(opts, "/api/history", query))
}

func runFetch(args []string) error {
	opts := parseArgs(args, "name")
	if opts.help {
		fmt.Println(`agrictl fetch - download one data file

Usage:
  agrictl fetch --name=<file> [--node=<id>] [--addr=<url>]`)
		return nil
	}

	name := opts.rest["name"]
	if name == "" {
		return fmt.Errorf("--name is required")
	}
	return call(http.MethodGet, apiURL(opts, "/api/files/download", "name="+name))
}

func runResolve(args []string) error {
	opts := parseArgs(args, "port")
	if opts.help {
		fmt.Println(`agrictl resolve - find a node's reachable front-door address

Asks the contacted node for its mesh view, then walks the target's
advertised addresses in preference order (AP, then station) and probes
each one, printing the first that answers on the given port. Advertised
addresses can be stale or sit on an unreachable subnet, so the probe
result is what matters, not the advertisement.

Usage:
  agrictl resolve --node=<id> [--port=8080] [--addr=<url>]`)
		return nil
	}

	if opts.nodeID == "" {
		return fmt.Errorf("--node is required")
	}
	port := 8080
	if p := opts.rest["port"]; p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("invalid --port %q", p)
		}
		port = parsed
	}

	target, err := fetchNode(opts.addr, opts.nodeID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	addr, err := registry.ResolveReachable(ctx, registry.TCPProber{}, target, port, "")
	if err != nil {
		return err
	}
	fmt.Println(net.JoinHostPort(addr, strconv.Itoa(port)))
	return nil
}

// fetchNode pulls the contacted node's mesh view and picks one entry.
func fetchNode(baseURL, nodeID string) (registry.Node, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	resp, err := client.Get(strings.TrimSuffix(baseURL, "/") + "/api/mesh-nodes")
	if err != nil {
		return registry.Node{}, err
	}
	defer resp.Body.Close()

	var result struct {
		Status string `json:"status"`
		Error  string `json:"error"`
		Data   struct {
			Nodes []registry.Node `json:"nodes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return registry.Node{}, fmt.Errorf("decoding mesh view: %w", err)
	}
	if result.Status != "ok" {
		return registry.Node{}, fmt.Errorf("mesh view: %s", result.Error)
	}

	for _, n := range result.Data.Nodes {
		if n.ID == nodeID {
			return n, nil
		}
	}
	return registry.Node{}, fmt.Errorf("node %s is not in the contacted node's mesh view", nodeID)
}

func call(method, url string) error {
	client := &http.Client{Timeout: 30 * time.Second}

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusRequestTimeout:
		return fmt.Errorf("target node did not answer in time")
	case http.StatusNotFound:
		return fmt.Errorf("target node is not known to the mesh")
	default:
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(string(body))
	return nil
}
