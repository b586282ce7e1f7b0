package client

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"unlockd/internal/server/ledger"

	"github.com/ethereum/go-ethereum/common"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

type CommandKind int

const (
	CmdLogin CommandKind = iota
	CmdCreate
	CmdBuy
	CmdAccess
	CmdContent
	CmdStats
	CmdWithdraw
)

var commandNames = map[string]CommandKind{
	"login":    CmdLogin,
	"create":   CmdCreate,
	"buy":      CmdBuy,
	"access":   CmdAccess,
	"content":  CmdContent,
	"stats":    CmdStats,
	"withdraw": CmdWithdraw,
}

// Command is a parsed CLI invocation. Only the fields its Kind uses are set.
type Command struct {
	Kind      CommandKind
	ContentID uint64
	Address   common.Address
	Value     *big.Int
	Create    CreateContentRequest
}

const usage = `usage: unlock <command> [args]

  login                                   sign in with UNLOCK_PRIVATE_KEY and print a token
  create <title> <type> <price_wei> <ipfs_hash|embed_url> [description]
  buy <content_id> <value_wei>
  access <address> <content_id>
  content <content_id>
  stats <address>
  withdraw`

// Usage returns the help text.
func Usage() string {
	return usage
}

func ParseCommand(args []string) (*Command, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<command>", Cause: "no command provided"}
	}

	kind, ok := commandNames[strings.ToLower(args[0])]
	if !ok {
		return nil, &ValidationError{Arg: args[0], Cause: "unknown command"}
	}
	cmd := &Command{Kind: kind}
	rest := args[1:]

	switch kind {
	case CmdLogin, CmdWithdraw:
		if len(rest) != 0 {
			return nil, &ValidationError{Arg: args[0], Cause: "takes no arguments"}
		}

	case CmdCreate:
		if len(rest) < 4 || len(rest) > 5 {
			return nil, &ValidationError{Arg: args[0], Cause: "expected <title> <type> <price_wei> <location> [description]"}
		}
		ct, err := ledger.ParseContentType(rest[1])
		if err != nil {
			return nil, &ValidationError{Arg: rest[1], Cause: "unknown content type"}
		}
		price, err := parseWei(rest[2])
		if err != nil {
			return nil, err
		}
		cmd.Create = CreateContentRequest{
			Title:       rest[0],
			ContentType: ct.String(),
			PriceWei:    price.String(),
		}
		if strings.HasPrefix(rest[3], "http://") || strings.HasPrefix(rest[3], "https://") {
			cmd.Create.EmbedURL = rest[3]
		} else {
			cmd.Create.IPFSHash = rest[3]
		}
		if len(rest) == 5 {
			cmd.Create.Description = rest[4]
		}

	case CmdBuy:
		if len(rest) != 2 {
			return nil, &ValidationError{Arg: args[0], Cause: "expected <content_id> <value_wei>"}
		}
		id, err := parseContentID(rest[0])
		if err != nil {
			return nil, err
		}
		value, err := parseWei(rest[1])
		if err != nil {
			return nil, err
		}
		cmd.ContentID = id
		cmd.Value = value

	case CmdAccess:
		if len(rest) != 2 {
			return nil, &ValidationError{Arg: args[0], Cause: "expected <address> <content_id>"}
		}
		addr, err := parseAddress(rest[0])
		if err != nil {
			return nil, err
		}
		id, err := parseContentID(rest[1])
		if err != nil {
			return nil, err
		}
		cmd.Address = addr
		cmd.ContentID = id

	case CmdContent:
		if len(rest) != 1 {
			return nil, &ValidationError{Arg: args[0], Cause: "expected <content_id>"}
		}
		id, err := parseContentID(rest[0])
		if err != nil {
			return nil, err
		}
		cmd.ContentID = id

	case CmdStats:
		if len(rest) != 1 {
			return nil, &ValidationError{Arg: args[0], Cause: "expected <address>"}
		}
		addr, err := parseAddress(rest[0])
		if err != nil {
			return nil, err
		}
		cmd.Address = addr
	}

	return cmd, nil
}

func parseContentID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, &ValidationError{Arg: raw, Cause: "content id must be a positive integer"}
	}
	return id, nil
}

func parseWei(raw string) (*big.Int, error) {
	v, err := ledger.ParseAmount(raw)
	if err != nil || raw == "" {
		return nil, &ValidationError{Arg: raw, Cause: "amount must be a non-negative integer in wei"}
	}
	return v, nil
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, &ValidationError{Arg: raw, Cause: "not a hex address"}
	}
	return common.HexToAddress(raw), nil
}
