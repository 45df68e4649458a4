// Package chatbot is the Telegram intake of the drip service.
package chatbot

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	commonerrors "github.com/ClipFinance/faucet-relay/common/errors"
	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ClipFinance/faucet-relay/drip"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// addressPattern finds the first address in a message, with or without 0x prefix.
var addressPattern = regexp.MustCompile(`(0x)?[0-9a-fA-F]{40}`)

// Replies sent to chat users.
const (
	replyBotsNotAllowed = "Bots are not allowed."
	replyNoUsername     = "Failed to get username."
	replyAskAddress     = "Please enter the recipient address you want the testnet funds delivered on."
	replyZeroAddress    = "Sending everything I own to the zero address right away.\nJust kidding! Now why would you do that?"
	replyInvalidAddress = "Please send a valid address."
	replyCooldown       = "You already claimed a drip today.\nTry again in %s."
	replyDatabaseError  = "Sorry, there was a database error. Please try again later."
	replyNoFunds        = "❌ Bot wallet has insufficient funds. Please contact support."
	replyNetworkError   = "❌ Network error. Please try again later."
	replyTxFailed       = "❌ Transaction failed. Please check the address and try again."
	replyPending        = "⏳ The network is slow to answer. Your drip may still arrive, please check your wallet before trying again."
	replyUnexpected     = "Sorry, there was an unexpected error. Please try again later."
)

// Dripper performs drips on behalf of chat identities.
type Dripper interface {
	Drip(ctx context.Context, identity, recipient string) (*types.DripRecord, error)
}

// Messenger sends chat messages. *tgbotapi.BotAPI implements it.
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config holds what the bot tells its users.
type Config struct {
	NetworkName string        // Human readable network name.
	ChainID     uint64        // Network the drips are sent on.
	Amount      *big.Int      // Amount per drip in wei.
	Cooldown    time.Duration // Per-identity claim window.
	ExplorerURL string        // Transaction explorer prefix, optional.
}

// Bot answers chat commands and turns address messages into drips.
type Bot struct {
	api     Messenger
	dripper Dripper
	config  Config
	logger  *logrus.Logger
}

// NewBot creates a chat bot.
//
// Parameters:
// - api: the messenger used for replies.
// - dripper: the drip service.
// - config: the bot settings.
// - logger: the logger.
//
// Returns:
// - *Bot: the bot.
func NewBot(api Messenger, dripper Dripper, config Config, logger *logrus.Logger) *Bot {
	return &Bot{
		api:     api,
		dripper: dripper,
		config:  config,
		logger:  logger,
	}
}

// Run handles updates until ctx ends or the channel is closed.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate answers a single update. Updates without a message are ignored.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.start(msg)
		case "help":
			b.help(msg)
		}
		return
	}

	b.claim(ctx, msg)
}

func (b *Bot) start(msg *tgbotapi.Message) {
	if reply, ok := checkSender(msg.From); !ok {
		b.reply(msg, reply)
		return
	}
	b.reply(msg, replyAskAddress)
}

func (b *Bot) help(msg *tgbotapi.Message) {
	text := fmt.Sprintf(`🚰 *%[1]s Faucet Bot* 🚰

Get free test ETH for development on %[1]s.

*How to use:*
1. Send /start to begin
2. Send any valid Ethereum address (0x...)
3. Receive %[2]s ETH on %[1]s

*Rules:*
• One claim per user every %[3]s
• Valid Ethereum addresses only
• No bots allowed
• Telegram username required

*Network:* %[1]s (chain id %[4]d)`,
		b.config.NetworkName, formatEther(b.config.Amount), formatWait(b.config.Cooldown), b.config.ChainID)

	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = tgbotapi.ModeMarkdown
	b.send(reply)
}

func (b *Bot) claim(ctx context.Context, msg *tgbotapi.Message) {
	address := addressPattern.FindString(msg.Text)
	if address == "" {
		return
	}

	if reply, ok := checkSender(msg.From); !ok {
		b.reply(msg, reply)
		return
	}

	if !strings.HasPrefix(address, "0x") {
		address = "0x" + address
	}
	if common.HexToAddress(address) == (common.Address{}) {
		b.reply(msg, replyZeroAddress)
		return
	}

	logger := b.logger.WithFields(logrus.Fields{
		"identity":  msg.From.UserName,
		"recipient": address,
	})
	logger.Info("Drip requested")

	record, err := b.dripper.Drip(ctx, msg.From.UserName, address)
	if err != nil {
		b.reply(msg, b.failureReply(err))
		return
	}

	text := fmt.Sprintf("✅ Sent %s ETH to %s\n\nTransaction: %s", formatEther(record.Amount), record.To, record.TxHash)
	if b.config.ExplorerURL != "" {
		text += "\nExplorer: " + b.config.ExplorerURL + record.TxHash
	}
	b.reply(msg, text)
}

func (b *Bot) failureReply(err error) string {
	var cooldown *commonerrors.CooldownError
	switch {
	case errors.As(err, &cooldown):
		return fmt.Sprintf(replyCooldown, formatWait(time.Until(cooldown.NextClaimAt)))
	case errors.Is(err, drip.ErrInvalidRecipient):
		return replyInvalidAddress
	case errors.Is(err, drip.ErrClaimStore):
		return replyDatabaseError
	case commonerrors.KindOf(err) == commonerrors.KindFeeUnavailable:
		return replyNetworkError
	case commonerrors.KindOf(err) == commonerrors.KindSubmissionUnknown:
		return replyPending
	case commonerrors.KindOf(err) == commonerrors.KindSubmissionFailed:
		if strings.Contains(strings.ToLower(err.Error()), "insufficient funds") {
			return replyNoFunds
		}
		return replyTxFailed
	default:
		return replyUnexpected
	}
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ReplyToMessageID = msg.MessageID
	b.send(reply)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.WithError(err).Warn("Failed to send chat message")
	}
}

// checkSender refuses bots and users without a username, since drips are keyed by username.
func checkSender(from *tgbotapi.User) (string, bool) {
	switch {
	case from == nil:
		return replyNoUsername, false
	case from.IsBot:
		return replyBotsNotAllowed, false
	case from.UserName == "":
		return replyNoUsername, false
	}
	return "", true
}

func formatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	ether := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether))
	return ether.Text('f', -1)
}

// formatWait renders a wait rounded up to the minute, e.g. "23h59m".
func formatWait(d time.Duration) string {
	if d < time.Minute {
		return "1m"
	}
	d = d.Round(time.Minute)
	s := d.String()
	return strings.TrimSuffix(s, "0s")
}
