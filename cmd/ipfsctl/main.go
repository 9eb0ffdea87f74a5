package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/ipfs-orchestrator/cmd/flags"
	"github.com/ruteri/ipfs-orchestrator/interfaces"
	"github.com/ruteri/ipfs-orchestrator/storage"
	"github.com/urfave/cli/v2"
)

var flagBinary = &cli.BoolFlag{
	Name:  "binary",
	Usage: "write the raw bytes instead of text",
}
var flagSkipMirror = &cli.BoolFlag{
	Name:  "skip-mirror",
	Usage: "leave the mirrored object in place",
}
var flagSkipRemotePin = &cli.BoolFlag{
	Name:  "skip-remote-pin",
	Usage: "leave the remote pin in place",
}
var flagPin = &cli.BoolFlag{
	Name:  "pin",
	Usage: "pin the DAG node on the write node",
}

func main() {
	app := &cli.App{
		Name:  "ipfsctl",
		Usage: "Add, read and remove content across an IPFS node, a remote pinning service and S3 mirrors",
		Flags: append(append([]cli.Flag{flags.LogServiceFlagFn("ipfsctl")}, flags.LoggingFlags...), flags.StoreFlags...),
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "add a file (or stdin) and print its CID",
				ArgsUsage: "[file|-]",
				Action: withWriter(func(ctx context.Context, cCtx *cli.Context, c *storage.Client) error {
					data, err := readInput(cCtx.Args().First())
					if err != nil {
						return err
					}
					id, err := c.AddBytes(ctx, data)
					if err != nil {
						return err
					}
					fmt.Println(id)
					return nil
				}),
			},
			{
				Name:      "add-json",
				Usage:     "add a JSON document given as argument (or on stdin) and print its CID",
				ArgsUsage: "[json|-]",
				Action: withWriter(func(ctx context.Context, cCtx *cli.Context, c *storage.Client) error {
					raw := []byte(cCtx.Args().First())
					if len(raw) == 0 || cCtx.Args().First() == "-" {
						var err error
						if raw, err = io.ReadAll(os.Stdin); err != nil {
							return fmt.Errorf("failed to read stdin: %w", err)
						}
					}
					var v any
					if err := json.Unmarshal(raw, &v); err != nil {
						return fmt.Errorf("invalid JSON document: %w", err)
					}
					id, err := c.AddJSON(ctx, v)
					if err != nil {
						return err
					}
					fmt.Println(id)
					return nil
				}),
			},
			{
				Name:      "cat",
				Usage:     "print the content stored under a CID",
				ArgsUsage: "<cid>",
				Flags:     []cli.Flag{flagBinary},
				Action: withReader(func(ctx context.Context, cCtx *cli.Context, c *storage.Client) error {
					id, err := cidArg(cCtx)
					if err != nil {
						return err
					}
					if cCtx.Bool(flagBinary.Name) {
						data, err := c.Cat(ctx, id)
						if err != nil {
							return err
						}
						_, err = os.Stdout.Write(data)
						return err
					}
					text, err := c.CatString(ctx, id)
					if err != nil {
						return err
					}
					fmt.Print(text)
					return nil
				}),
			},
			{
				Name:      "get-json",
				Usage:     "print the JSON document stored under a CID",
				ArgsUsage: "<cid>",
				Action: withReader(func(ctx context.Context, cCtx *cli.Context, c *storage.Client) error {
					id, err := cidArg(cCtx)
					if err != nil {
						return err
					}
					v, err := c.GetJSON(ctx, id)
					if err != nil {
						return err
					}
					return printJSON(v)
				}),
			},
			{
				Name:      "rm",
				Usage:     "unpin a CID and remove it from the remote pinning service and the mirrors",
				ArgsUsage: "<cid>",
				Flags:     []cli.Flag{flagSkipMirror, flagSkipRemotePin},
				Action: withWriter(func(ctx context.Context, cCtx *cli.Context, c *storage.Client) error {
					id, err := cidArg(cCtx)
					if err != nil {
						return err
					}
					var opts []interfaces.RemoveOption
					if cCtx.Bool(flagSkipMirror.Name) {
						opts = append(opts, interfaces.SkipMirrorRemoval())
					}
					if cCtx.Bool(flagSkipRemotePin.Name) {
						opts = append(opts, interfaces.SkipRemotePinRemoval())
					}
					removed, err := c.RemoveBytes(ctx, id, opts...)
					if err != nil {
						return err
					}
					if !removed {
						return cli.Exit(fmt.Sprintf("%s was not unpinned", id), 1)
					}
					fmt.Println("removed", id)
					return nil
				}),
			},
			{
				Name:  "dag",
				Usage: "pass DAG nodes through to the node",
				Subcommands: []*cli.Command{
					{
						Name:      "put",
						Usage:     "store a DAG node read from a file (or stdin)",
						ArgsUsage: "[file|-]",
						Flags:     []cli.Flag{flagPin},
						Action: withWriter(func(ctx context.Context, cCtx *cli.Context, c *storage.Client) error {
							data, err := readInput(cCtx.Args().First())
							if err != nil {
								return err
							}
							res, err := c.DAG().Put(ctx, bytes.NewReader(data), cCtx.Bool(flagPin.Name))
							if err != nil {
								return err
							}
							return printJSON(res)
						}),
					},
					{
						Name:      "get",
						Usage:     "print a DAG node",
						ArgsUsage: "<cid>",
						Action: withReader(func(ctx context.Context, cCtx *cli.Context, c *storage.Client) error {
							id, err := cidArg(cCtx)
							if err != nil {
								return err
							}
							block, err := c.DAG().Get(ctx, id)
							if err != nil {
								return err
							}
							fmt.Println(block.String())
							return nil
						}),
					},
				},
			},
			{
				Name:      "status",
				Usage:     "report node versions, mirror reachability and optionally whether a CID is pinned",
				ArgsUsage: "[cid]",
				Action:    withManager(status),
			},
			{
				Name:  "mirror",
				Usage: "operate on the mirrors directly",
				Subcommands: []*cli.Command{
					{
						Name:      "put",
						Usage:     "upload a file (or stdin) under its raw CIDv1",
						ArgsUsage: "[file|-]",
						Action:    withMirror(mirrorPut),
					},
					{
						Name:      "delete",
						Usage:     "delete the object stored under a CID",
						ArgsUsage: "<cid>",
						Action: withMirror(func(ctx context.Context, cCtx *cli.Context, m interfaces.Mirror) error {
							id, err := cidArg(cCtx)
							if err != nil {
								return err
							}
							if err := m.Delete(ctx, id); err != nil {
								return err
							}
							fmt.Println("deleted", id)
							return nil
						}),
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func status(ctx context.Context, cCtx *cli.Context, mgr *storage.Manager, logger *slog.Logger) error {
	if err := mgr.Initialize(ctx); err != nil {
		return err
	}

	for _, role := range []struct {
		name string
		get  func() (*storage.Client, error)
	}{
		{"write", mgr.Writer},
		{"read", mgr.Reader},
	} {
		c, err := role.get()
		if err != nil {
			return err
		}
		version, err := c.Version(ctx)
		if err != nil {
			fmt.Printf("%s node %s: unavailable (%v)\n", role.name, c.Endpoint(), err)
			continue
		}
		fmt.Printf("%s node %s: version %s\n", role.name, c.Endpoint(), version)
	}

	if mirror, err := mgr.Mirror(); err == nil {
		fmt.Printf("mirror %s: available=%t\n", mirror.Name(), mirror.Available(ctx))
	} else {
		fmt.Println("mirror: disabled")
	}

	if cCtx.Args().Present() {
		id, err := cidArg(cCtx)
		if err != nil {
			return err
		}
		writer, err := mgr.Writer()
		if err != nil {
			return err
		}
		pinned, err := writer.IsPinned(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("%s pinned=%t\n", id, pinned)
	}
	return nil
}

func mirrorPut(ctx context.Context, cCtx *cli.Context, m interfaces.Mirror) error {
	data, err := readInput(cCtx.Args().First())
	if err != nil {
		return err
	}
	id, err := storage.DeriveCID(data)
	if err != nil {
		return err
	}
	stored, err := m.Put(ctx, id, data)
	if err != nil {
		return err
	}
	fmt.Println(stored)
	return nil
}

type managerAction func(ctx context.Context, cCtx *cli.Context, mgr *storage.Manager, logger *slog.Logger) error

func withManager(fn managerAction) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx, os.Stderr)

		cfg, err := flags.LoadConfig(cCtx)
		if err != nil {
			return err
		}
		mgr, err := storage.NewManager(cfg, logger)
		if err != nil {
			return err
		}
		defer mgr.Close()

		ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		return fn(ctx, cCtx, mgr, logger)
	}
}

func withClient(fn func(ctx context.Context, cCtx *cli.Context, c *storage.Client) error, write bool) cli.ActionFunc {
	return withManager(func(ctx context.Context, cCtx *cli.Context, mgr *storage.Manager, _ *slog.Logger) error {
		if err := mgr.Initialize(ctx); err != nil {
			return err
		}
		get := mgr.Reader
		if write {
			get = mgr.Writer
		}
		c, err := get()
		if err != nil {
			return err
		}
		return fn(ctx, cCtx, c)
	})
}

func withWriter(fn func(ctx context.Context, cCtx *cli.Context, c *storage.Client) error) cli.ActionFunc {
	return withClient(fn, true)
}

func withReader(fn func(ctx context.Context, cCtx *cli.Context, c *storage.Client) error) cli.ActionFunc {
	return withClient(fn, false)
}

func withMirror(fn func(ctx context.Context, cCtx *cli.Context, m interfaces.Mirror) error) cli.ActionFunc {
	return withManager(func(ctx context.Context, cCtx *cli.Context, mgr *storage.Manager, _ *slog.Logger) error {
		m, err := mgr.Mirror()
		if err != nil {
			return err
		}
		return fn(ctx, cCtx, m)
	})
}

func cidArg(cCtx *cli.Context) (interfaces.ContentID, error) {
	if !cCtx.Args().Present() {
		return "", errors.New("missing CID argument")
	}
	return interfaces.ContentID(cCtx.Args().First()), nil
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
