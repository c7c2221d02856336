package router

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnauthorized is returned for senders outside the admin allow list.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInvalidArguments is returned when a known command carries a
// malformed argument list. Nothing is executed.
var ErrInvalidArguments = errors.New("invalid arguments")

// ErrUnknownCommand is returned for text that is not a recognized
// command. Parsing fails closed.
var ErrUnknownCommand = errors.New("unknown command")

type Kind int

const (
	KindStart Kind = iota
	KindHelp
	KindShowBasket
	KindSetBasket
	KindSetStake
	KindStatus
	KindBalance
	KindArm
	KindDisarm
	KindGoLong
	KindGoShort
	KindFlat
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindHelp:
		return "help"
	case KindShowBasket:
		return "basket"
	case KindSetBasket:
		return "basket_set"
	case KindSetStake:
		return "stake"
	case KindStatus:
		return "status"
	case KindBalance:
		return "balance"
	case KindArm:
		return "arm"
	case KindDisarm:
		return "disarm"
	case KindGoLong:
		return "go_long"
	case KindGoShort:
		return "go_short"
	case KindFlat:
		return "flat"
	default:
		return "unknown"
	}
}

// Destructive reports whether the command mutates positions or engine
// state and therefore passes through the arm gate.
func (k Kind) Destructive() bool {
	switch k {
	case KindGoLong, KindGoShort, KindFlat:
		return true
	default:
		return false
	}
}

// Command is one parsed chat command with its sender identity attached.
type Command struct {
	Kind     Kind
	Pairs    []string
	Stake    float64
	IssuerID int64
	Username string
	At       time.Time
	Raw      string
}

// Parse turns a raw message text into a Command. Unknown commands and
// malformed arguments are rejected; nothing is guessed. A trailing
// @botname on the command word is stripped so group mentions work.
func Parse(text string) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, text)
	}
	word := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(word, '@'); at >= 0 {
		word = word[:at]
	}
	args := fields[1:]
	cmd := Command{Raw: text}

	switch strings.ToLower(word) {
	case "start":
		cmd.Kind = KindStart
	case "help":
		cmd.Kind = KindHelp
	case "basket":
		cmd.Kind = KindShowBasket
	case "bs", "basket_set":
		cmd.Kind = KindSetBasket
		if len(args) == 0 {
			return Command{}, fmt.Errorf("%w: usage: /bs PAIR [PAIR ...]", ErrInvalidArguments)
		}
		cmd.Pairs = args
		return cmd, nil
	case "stake":
		cmd.Kind = KindSetStake
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%w: usage: /stake AMOUNT", ErrInvalidArguments)
		}
		stake, err := strconv.ParseFloat(args[0], 64)
		if err != nil || stake <= 0 {
			return Command{}, fmt.Errorf("%w: stake must be a positive number, got %q", ErrInvalidArguments, args[0])
		}
		cmd.Stake = stake
		return cmd, nil
	case "status":
		cmd.Kind = KindStatus
	case "balance":
		cmd.Kind = KindBalance
	case "arm":
		cmd.Kind = KindArm
	case "disarm":
		cmd.Kind = KindDisarm
	case "go_long":
		cmd.Kind = KindGoLong
	case "go_short":
		cmd.Kind = KindGoShort
	case "flat":
		cmd.Kind = KindFlat
	default:
		return Command{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, word)
	}
	if len(args) != 0 {
		return Command{}, fmt.Errorf("%w: /%s takes no arguments", ErrInvalidArguments, word)
	}
	return cmd, nil
}
