package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/weave/internal/config"
	"github.com/hpungsan/weave/internal/engine"
	"github.com/hpungsan/weave/internal/mcp"
	"github.com/hpungsan/weave/internal/replica"
	"github.com/hpungsan/weave/internal/server"
	"github.com/hpungsan/weave/internal/session"
	"github.com/hpungsan/weave/internal/store"
	"github.com/hpungsan/weave/internal/workspace"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(baseDir string) *cli.App {
	return &cli.App{
		Name:    "weave",
		Usage:   "Distributed workspace engine",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(baseDir),
			agentCmd(baseDir),
			checkoutCmd(baseDir),
			lsCmd(baseDir),
		},
	}
}

// openEngine initializes store, workspace, and engine for one node.
func openEngine(baseDir string) (*config.Config, *store.Store, *engine.Engine, error) {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := store.Init(baseDir)
	if err != nil {
		return nil, nil, nil, err
	}
	ws, err := workspace.New(st)
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	eng, err := engine.New(cfg, st, ws)
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	return cfg, st, eng, nil
}

// serveCmd runs the node: client listener, session reaper, replication.
func serveCmd(baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the workspace node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "node-id", Usage: "Node identity (overrides config)"},
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "Listen address (overrides config)"},
			&cli.StringSliceFlag{Name: "peer", Aliases: []string{"p"}, Usage: "Peer address (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			cfg, st, eng, err := openEngine(baseDir)
			if err != nil {
				return err
			}
			defer st.Close()

			if v := c.String("node-id"); v != "" {
				cfg.NodeID = v
			}
			if v := c.String("listen"); v != "" {
				cfg.ListenAddr = v
			}
			if v := c.StringSlice("peer"); len(v) > 0 {
				cfg.PeerAddrs = append(cfg.PeerAddrs, v...)
			}
			if cfg.NodeID == "" {
				return fmt.Errorf("node_id must be set in config.json or via --node-id")
			}

			sessions := session.NewManager(cfg, eng)
			peers := server.NewPeerSet()
			repl := replica.NewManager(cfg.NodeID, eng, st, peers)
			srv := server.New(cfg, eng, sessions, repl, peers)
			return srv.ListenAndServe()
		},
	}
}

// agentCmd serves the MCP gateway on stdio so local agents can read and
// patch the workspace through the serializer.
func agentCmd(baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "agent",
		Usage: "Serve the agent gateway over stdio (MCP)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "author", Value: "agent", Usage: "Identity tag for submitted patches"},
		},
		Action: func(c *cli.Context) error {
			if isTerminal() {
				fmt.Fprintln(os.Stderr, "agent gateway mode requires piped input")
				return nil
			}
			_, st, eng, err := openEngine(baseDir)
			if err != nil {
				return err
			}
			defer st.Close()
			return mcp.Run(eng, c.String("author"), Version)
		},
	}
}

// checkoutCmd reconstructs historical content of a file.
func checkoutCmd(baseDir string) *cli.Command {
	return &cli.Command{
		Name:      "checkout",
		Usage:     "Print a file's content at a historical version",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "version", Aliases: []string{"v"}, Required: true, Usage: "Version to reconstruct"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: weave checkout --version N <path>")
			}
			_, st, eng, err := openEngine(baseDir)
			if err != nil {
				return err
			}
			defer st.Close()

			content, err := eng.Checkout(c.Args().First(), c.Uint64("version"))
			if err != nil {
				return err
			}
			fmt.Print(content)
			return nil
		},
	}
}

// lsCmd dumps workspace metadata.
func lsCmd(baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "ls",
		Usage: "List workspace files and versions as JSON",
		Action: func(c *cli.Context) error {
			_, st, eng, err := openEngine(baseDir)
			if err != nil {
				return err
			}
			defer st.Close()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(eng.Files())
		},
	}
}
