package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"unlockd/internal/client"
	"unlockd/internal/walletauth"
)

func main() {
	cmd, err := client.ParseCommand(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n%s\n", err, client.Usage())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	c := client.New(envOr("UNLOCK_API", "http://localhost:8080"), os.Getenv("UNLOCK_TOKEN"))
	if err := run(ctx, c, cmd); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(os.Stderr, "Error: %s (HTTP %d)\n", apiErr.Message, apiErr.Status)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, cmd *client.Command) error {
	// Commands that act as a wallet log in on the fly when no token is set.
	needsWallet := cmd.Kind == client.CmdLogin || cmd.Kind == client.CmdCreate ||
		cmd.Kind == client.CmdBuy || cmd.Kind == client.CmdWithdraw
	if needsWallet && (cmd.Kind == client.CmdLogin || c.Token() == "") {
		key, err := walletauth.LoadKey(os.Getenv("UNLOCK_PRIVATE_KEY"))
		if err != nil {
			return fmt.Errorf("UNLOCK_PRIVATE_KEY: %w", err)
		}
		token, err := c.Login(ctx, key)
		if err != nil {
			return err
		}
		if cmd.Kind == client.CmdLogin {
			fmt.Println(token)
			return nil
		}
	}

	switch cmd.Kind {
	case client.CmdCreate:
		item, err := c.CreateContent(ctx, cmd.Create)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Created content #%d (%s, %s wei)\n", item.ID, item.ContentType, item.PriceWei)

	case client.CmdBuy:
		grant, err := c.Purchase(ctx, cmd.ContentID, cmd.Value)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Unlocked content #%d for %s wei\n", grant.ContentID, grant.AmountPaidWei)

	case client.CmdAccess:
		has, err := c.CheckAccess(ctx, cmd.Address, cmd.ContentID)
		if err != nil {
			return err
		}
		fmt.Println(has)

	case client.CmdContent:
		item, err := c.GetContent(ctx, cmd.ContentID)
		if err != nil {
			return err
		}
		fmt.Printf("#%d %s\n", item.ID, item.Title)
		fmt.Printf("  type:     %s\n", item.ContentType)
		fmt.Printf("  creator:  %s\n", item.Creator)
		fmt.Printf("  price:    %s wei\n", item.PriceWei)
		fmt.Printf("  active:   %t\n", item.IsActive)
		fmt.Printf("  sales:    %d (%s wei)\n", item.TotalSales, item.TotalEarningsWei)

	case client.CmdStats:
		stats, err := c.CreatorStats(ctx, cmd.Address)
		if err != nil {
			return err
		}
		fmt.Printf("creator:          %s\n", stats.Creator)
		fmt.Printf("active content:   %d\n", stats.ActiveContent)
		fmt.Printf("sales:            %d\n", stats.TotalSales)
		fmt.Printf("earnings:         %s wei\n", stats.TotalEarningsWei)
		fmt.Printf("lifetime:         %s wei\n", stats.LifetimeEarningsWei)

	case client.CmdWithdraw:
		w, err := c.Withdraw(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Withdrew %s wei (ref %s)\n", w.AmountWei, w.Reference)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
