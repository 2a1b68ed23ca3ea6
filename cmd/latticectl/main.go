package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/control"
	"github.com/latticehq/hostd/pkg/errs"
	"github.com/latticehq/hostd/pkg/types"
)

var (
	// Version information, set via ldflags during build.
	Version = "dev"
)

const (
	exitAccepted = 0
	exitRefused  = 1
	exitLocal    = 2
	exitTimeout  = 3
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitLocal)
	}
}

var rootCmd = &cobra.Command{
	Use:     "latticectl",
	Short:   "latticectl issues control-protocol requests to a lattice",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("bus-url", "nats://127.0.0.1:4222", "Bus server URL")
	rootCmd.PersistentFlags().String("bus-seed-file", "", "nkeys seed file for bus authentication")
	rootCmd.PersistentFlags().String("lattice", "default", "Lattice prefix")
	rootCmd.PersistentFlags().Duration("timeout", 5*time.Second, "Request timeout")

	rootCmd.AddCommand(hostCmd, componentCmd, providerCmd, linkCmd, configCmd, auctionCmd)

	hostCmd.AddCommand(hostInventoryCmd, hostStopCmd)
	componentCmd.AddCommand(componentScaleCmd, componentUpdateCmd)
	providerCmd.AddCommand(providerStartCmd, providerStopCmd)
	linkCmd.AddCommand(linkPutCmd, linkDeleteCmd)
	configCmd.AddCommand(configPutCmd, configDeleteCmd)
	auctionCmd.AddCommand(auctionComponentCmd, auctionProviderCmd)

	hostStopCmd.Flags().String("host-id", "", "Target host id (required)")
	hostStopCmd.Flags().Duration("deadline", 10*time.Second, "Drain deadline")
	hostInventoryCmd.Flags().String("host-id", "", "Target host id, empty reaches whichever host answers first")

	componentScaleCmd.Flags().String("host-id", "", "Target host id (required)")
	componentScaleCmd.Flags().String("image-ref", "", "Component image reference (required)")
	componentScaleCmd.Flags().Int("count", 1, "Desired instance count, 0 to unload")
	componentScaleCmd.Flags().StringSlice("config", nil, "Config bundle names to attach, repeatable")

	componentUpdateCmd.Flags().String("host-id", "", "Target host id (required)")
	componentUpdateCmd.Flags().String("image-ref", "", "New component image reference (required)")

	providerStartCmd.Flags().String("host-id", "", "Target host id (required)")
	providerStartCmd.Flags().String("image-ref", "", "Provider archive image reference (required)")
	providerStartCmd.Flags().String("link-name", "default", "Link name this provider instance answers")
	providerStartCmd.Flags().StringSlice("config", nil, "Config bundle names to attach, repeatable")

	providerStopCmd.Flags().String("host-id", "", "Target host id (required)")
	providerStopCmd.Flags().String("link-name", "default", "Link name")

	for _, c := range []*cobra.Command{linkPutCmd, linkDeleteCmd} {
		c.Flags().String("source", "", "Source component/provider id (required)")
		c.Flags().String("target", "", "Target component/provider id")
		c.Flags().String("namespace", "", "WIT namespace (required)")
		c.Flags().String("package", "", "WIT package (required)")
		c.Flags().String("name", "default", "Link name")
		c.Flags().StringSlice("interface", nil, "WIT interface, repeatable")
	}

	configPutCmd.Flags().String("name", "", "Config entry name (required)")
	configPutCmd.Flags().StringToString("set", nil, "key=value, repeatable")
	configDeleteCmd.Flags().String("name", "", "Config entry name (required)")

	for _, c := range []*cobra.Command{auctionComponentCmd, auctionProviderCmd} {
		c.Flags().String("image-ref", "", "Image reference (required)")
		c.Flags().StringToString("constraint", nil, "Placement label constraint, repeatable")
		c.Flags().Duration("window", 500*time.Millisecond, "Bid collection window")
	}
	auctionProviderCmd.Flags().String("link-name", "default", "Link name")
}

func newClient(cmd *cobra.Command) (*control.Client, func() error, error) {
	busURL, _ := cmd.Flags().GetString("bus-url")
	seedFile, _ := cmd.Flags().GetString("bus-seed-file")
	lattice, _ := cmd.Flags().GetString("lattice")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	b, err := bus.NewNats(cmd.Context(), bus.NatsConfig{URL: busURL, SeedFile: seedFile})
	if err != nil {
		return nil, nil, err
	}
	return control.NewClient(b, lattice, timeout), b.Close, nil
}

// exitFor maps a control-protocol error onto spec.md §6.6's CLI exit
// codes: 0 accepted, 1 refused, 2 local error, 3 timeout.
func exitFor(err error) int {
	if err == nil {
		return exitAccepted
	}
	switch errs.KindOf(err) {
	case errs.KindTimeout:
		return exitTimeout
	case errs.KindConflict:
		return exitRefused
	default:
		return exitLocal
	}
}

func run(cmd *cobra.Command, do func(ctx context.Context, c *control.Client) error) error {
	c, closeFn, err := newClient(cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitLocal)
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = do(ctx, c)
	code := exitFor(err)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if code != exitAccepted {
		os.Exit(code)
	}
	return nil
}

var hostCmd = &cobra.Command{Use: "host", Short: "Host operations"}

var hostInventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Fetch a host's self-reported inventory",
	RunE: func(cmd *cobra.Command, args []string) error {
		hostID, _ := cmd.Flags().GetString("host-id")
		return run(cmd, func(ctx context.Context, c *control.Client) error {
			inv, err := c.Inventory(ctx, hostID)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(inv, "", "  ")
			fmt.Println(string(out))
			return nil
		})
	},
}

var hostStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a host",
	RunE: func(cmd *cobra.Command, args []string) error {
		hostID, _ := cmd.Flags().GetString("host-id")
		deadline, _ := cmd.Flags().GetDuration("deadline")
		return run(cmd, func(ctx context.Context, c *control.Client) error {
			return c.StopHost(ctx, hostID, deadline)
		})
	},
}

var componentCmd = &cobra.Command{Use: "component", Short: "Component operations"}

var componentScaleCmd = &cobra.Command{
	Use:   "scale",
	Short: "Scale a component to a desired instance count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hostID, _ := cmd.Flags().GetString("host-id")
		imageRef, _ := cmd.Flags().GetString("image-ref")
		count, _ := cmd.Flags().GetInt("count")
		configNames, _ := cmd.Flags().GetStringSlice("config")
		return run(cmd, func(ctx context.Context, c *control.Client) error {
			return c.ScaleComponent(ctx, hostID, args[0], imageRef, count, configNames)
		})
	},
}

var componentUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Redeploy a component to a new image reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hostID, _ := cmd.Flags().GetString("host-id")
		imageRef, _ := cmd.Flags().GetString("image-ref")
		return run(cmd, func(ctx context.Context, c *control.Client) error {
			return c.UpdateComponent(ctx, hostID, args[0], imageRef)
		})
	},
}

var providerCmd = &cobra.Command{Use: "provider", Short: "Provider operations"}

var providerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a provider process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hostID, _ := cmd.Flags().GetString("host-id")
		imageRef, _ := cmd.Flags().GetString("image-ref")
		linkName, _ := cmd.Flags().GetString("link-name")
		configNames, _ := cmd.Flags().GetStringSlice("config")
		return run(cmd, func(ctx context.Context, c *control.Client) error {
			return c.StartProvider(ctx, hostID, args[0], imageRef, linkName, configNames)
		})
	},
}

var providerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a provider process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hostID, _ := cmd.Flags().GetString("host-id")
		linkName, _ := cmd.Flags().GetString("link-name")
		return run(cmd, func(ctx context.Context, c *control.Client) error {
			return c.StopProvider(ctx, hostID, args[0], linkName)
		})
	},
}

var linkCmd = &cobra.Command{Use: "link", Short: "Link operations"}

var linkPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Put a link",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := linkFromFlags(cmd)
		if err != nil {
			return err
		}
		return run(cmd, func(ctx context.Context, c *control.Client) error {
			return c.PutLink(ctx, l)
		})
	},
}

var linkDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a link",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		namespace, _ := cmd.Flags().GetString("namespace")
		pkg, _ := cmd.Flags().GetString("package")
		name, _ := cmd.Flags().GetString("name")
		return run(cmd, func(ctx context.Context, c *control.Client) error {
			return c.DeleteLink(ctx, source, namespace, pkg, name)
		})
	},
}

var configCmd = &cobra.Command{Use: "config", Short: "Config bundle operations"}

var configPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Put a config entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		values, _ := cmd.Flags().GetStringToString("set")
		return run(cmd, func(ctx context.Context, c *control.Client) error {
			return c.PutConfig(ctx, name, values)
		})
	},
}

var configDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a config entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		return run(cmd, func(ctx context.Context, c *control.Client) error {
			return c.DeleteConfig(ctx, name)
		})
	},
}

var auctionCmd = &cobra.Command{Use: "auction", Short: "Auction operations"}

var auctionComponentCmd = &cobra.Command{
	Use:   "component",
	Short: "Auction a component image reference across the lattice",
	RunE: func(cmd *cobra.Command, args []string) error {
		imageRef, _ := cmd.Flags().GetString("image-ref")
		constraints, _ := cmd.Flags().GetStringToString("constraint")
		window, _ := cmd.Flags().GetDuration("window")
		return run(cmd, func(ctx context.Context, c *control.Client) error {
			bids, err := c.AuctionComponent(ctx, imageRef, constraints, window)
			if err != nil {
				return err
			}
			printBids(bids)
			return nil
		})
	},
}

var auctionProviderCmd = &cobra.Command{
	Use:   "provider",
	Short: "Auction a provider archive across the lattice",
	RunE: func(cmd *cobra.Command, args []string) error {
		imageRef, _ := cmd.Flags().GetString("image-ref")
		linkName, _ := cmd.Flags().GetString("link-name")
		constraints, _ := cmd.Flags().GetStringToString("constraint")
		window, _ := cmd.Flags().GetDuration("window")
		return run(cmd, func(ctx context.Context, c *control.Client) error {
			bids, err := c.AuctionProvider(ctx, imageRef, linkName, constraints, window)
			if err != nil {
				return err
			}
			printBids(bids)
			return nil
		})
	},
}

func printBids(bids []control.AuctionBid) {
	out, _ := json.MarshalIndent(bids, "", "  ")
	fmt.Println(string(out))
}

func linkFromFlags(cmd *cobra.Command) (*types.Link, error) {
	source, _ := cmd.Flags().GetString("source")
	target, _ := cmd.Flags().GetString("target")
	namespace, _ := cmd.Flags().GetString("namespace")
	pkg, _ := cmd.Flags().GetString("package")
	name, _ := cmd.Flags().GetString("name")
	interfaces, _ := cmd.Flags().GetStringSlice("interface")
	if source == "" || namespace == "" || pkg == "" {
		return nil, fmt.Errorf("--source, --namespace, and --package are required")
	}
	return &types.Link{
		SourceID:   source,
		TargetID:   target,
		Namespace:  namespace,
		Package:    pkg,
		Name:       name,
		Interfaces: interfaces,
	}, nil
}
