package chatbot

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	commonerrors "github.com/ClipFinance/faucet-relay/common/errors"
	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ClipFinance/faucet-relay/drip"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	recipient = "0x5B38Da6a701c568545dCfcB03FcB875f56beddC4"
	dripHash  = "0x00000000000000000000000000000000000000000000000000000000000000aa"
)

type fakeMessenger struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeMessenger) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func (f *fakeMessenger) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := make([]string, 0, len(f.sent))
	for _, msg := range f.sent {
		texts = append(texts, msg.Text)
	}
	return texts
}

type dripCall struct {
	identity  string
	recipient string
}

type fakeDripper struct {
	err   error
	calls []dripCall
}

func (f *fakeDripper) Drip(_ context.Context, identity, recipient string) (*types.DripRecord, error) {
	f.calls = append(f.calls, dripCall{identity, recipient})
	if f.err != nil {
		return nil, f.err
	}
	return &types.DripRecord{
		TxHash:   dripHash,
		To:       recipient,
		Identity: identity,
		Amount:   big.NewInt(10_000_000_000_000_000),
	}, nil
}

func newTestBot(dripper Dripper) (*Bot, *fakeMessenger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	messenger := &fakeMessenger{}
	bot := NewBot(messenger, dripper, Config{
		NetworkName: "Arbitrum Sepolia",
		ChainID:     421614,
		Amount:      big.NewInt(10_000_000_000_000_000),
		Cooldown:    24 * time.Hour,
		ExplorerURL: "https://sepolia.arbiscan.io/tx/",
	}, logger)
	return bot, messenger, hook
}

func textUpdate(text string, from *tgbotapi.User) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 7,
			Text:      text,
			Chat:      &tgbotapi.Chat{ID: 1001},
			From:      from,
		},
	}
}

func commandUpdate(command string, from *tgbotapi.User) tgbotapi.Update {
	update := textUpdate(command, from)
	update.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command)}}
	return update
}

func alice() *tgbotapi.User {
	return &tgbotapi.User{ID: 1, UserName: "alice"}
}

func TestStartCommand(t *testing.T) {
	cases := []struct {
		name string
		from *tgbotapi.User
		want string
	}{
		{"user", alice(), replyAskAddress},
		{"bot", &tgbotapi.User{ID: 2, UserName: "spambot", IsBot: true}, replyBotsNotAllowed},
		{"no username", &tgbotapi.User{ID: 3}, replyNoUsername},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bot, messenger, _ := newTestBot(&fakeDripper{})

			bot.HandleUpdate(context.Background(), commandUpdate("/start", tc.from))

			assert.Equal(t, []string{tc.want}, messenger.texts())
		})
	}
}

func TestHelpCommand(t *testing.T) {
	bot, messenger, _ := newTestBot(&fakeDripper{})

	bot.HandleUpdate(context.Background(), commandUpdate("/help", alice()))

	require.Len(t, messenger.sent, 1)
	assert.Equal(t, tgbotapi.ModeMarkdown, messenger.sent[0].ParseMode)
	assert.Contains(t, messenger.sent[0].Text, "Receive 0.01 ETH on Arbitrum Sepolia")
	assert.Contains(t, messenger.sent[0].Text, "One claim per user every 24h0m")
	assert.Contains(t, messenger.sent[0].Text, "chain id 421614")
}

func TestAddressMessageDrips(t *testing.T) {
	dripper := &fakeDripper{}
	bot, messenger, hook := newTestBot(dripper)

	bot.HandleUpdate(context.Background(), textUpdate("please send to "+recipient+" thanks", alice()))

	require.Equal(t, []dripCall{{"alice", recipient}}, dripper.calls)
	texts := messenger.texts()
	require.Len(t, texts, 1)
	assert.Equal(t, "✅ Sent 0.01 ETH to "+recipient+"\n\nTransaction: "+dripHash+
		"\nExplorer: https://sepolia.arbiscan.io/tx/"+dripHash, texts[0])
	assert.Equal(t, 7, messenger.sent[0].ReplyToMessageID)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Drip requested", entry.Message)
	assert.Equal(t, "alice", entry.Data["identity"])
}

func TestAddressWithoutPrefix(t *testing.T) {
	dripper := &fakeDripper{}
	bot, _, _ := newTestBot(dripper)

	bot.HandleUpdate(context.Background(), textUpdate(recipient[2:], alice()))

	require.Len(t, dripper.calls, 1)
	assert.Equal(t, recipient, dripper.calls[0].recipient)
}

func TestMessagesWithoutAddressAreIgnored(t *testing.T) {
	dripper := &fakeDripper{}
	bot, messenger, _ := newTestBot(dripper)

	bot.HandleUpdate(context.Background(), textUpdate("hello there", alice()))
	bot.HandleUpdate(context.Background(), commandUpdate("/unknown", alice()))
	bot.HandleUpdate(context.Background(), tgbotapi.Update{})

	assert.Empty(t, dripper.calls)
	assert.Empty(t, messenger.texts())
}

func TestRefusedSenders(t *testing.T) {
	dripper := &fakeDripper{}
	bot, messenger, _ := newTestBot(dripper)

	bot.HandleUpdate(context.Background(), textUpdate(recipient, &tgbotapi.User{ID: 2, UserName: "spambot", IsBot: true}))
	bot.HandleUpdate(context.Background(), textUpdate(recipient, &tgbotapi.User{ID: 3}))

	assert.Empty(t, dripper.calls)
	assert.Equal(t, []string{replyBotsNotAllowed, replyNoUsername}, messenger.texts())
}

func TestZeroAddressRefused(t *testing.T) {
	dripper := &fakeDripper{}
	bot, messenger, _ := newTestBot(dripper)

	bot.HandleUpdate(context.Background(), textUpdate("0x0000000000000000000000000000000000000000", alice()))

	assert.Empty(t, dripper.calls)
	assert.Equal(t, []string{replyZeroAddress}, messenger.texts())
}

func TestFailureReplies(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			"cooldown",
			&commonerrors.CooldownError{LastClaimAt: time.Now().Add(-22 * time.Hour), NextClaimAt: time.Now().Add(2 * time.Hour)},
			"You already claimed a drip today.",
		},
		{"invalid recipient", errors.Wrap(drip.ErrInvalidRecipient, "checksum"), replyInvalidAddress},
		{"database", errors.Wrapf(drip.ErrClaimStore, "failed to reserve claim: %v", "connection refused"), replyDatabaseError},
		{"fees", commonerrors.New(commonerrors.KindFeeUnavailable, errors.New("fee data unavailable")), replyNetworkError},
		{
			"insufficient funds",
			commonerrors.New(commonerrors.KindSubmissionFailed, errors.New("insufficient funds for gas * price + value")),
			replyNoFunds,
		},
		{"submission", commonerrors.New(commonerrors.KindSubmissionFailed, errors.New("nonce too low")), replyTxFailed},
		{
			"outcome unknown",
			commonerrors.New(commonerrors.KindSubmissionUnknown, errors.Wrap(context.DeadlineExceeded, "drip submission not answered in time")),
			replyPending,
		},
		{"other", errors.New("boom"), replyUnexpected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bot, messenger, _ := newTestBot(&fakeDripper{err: tc.err})

			bot.HandleUpdate(context.Background(), textUpdate(recipient, alice()))

			texts := messenger.texts()
			require.Len(t, texts, 1)
			assert.Contains(t, texts[0], tc.want)
		})
	}
}

func TestSendFailureIsLogged(t *testing.T) {
	bot, messenger, hook := newTestBot(&fakeDripper{})
	messenger.err = errors.New("telegram unavailable")

	bot.HandleUpdate(context.Background(), commandUpdate("/start", alice()))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "Failed to send chat message", entry.Message)
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	dripper := &fakeDripper{}
	bot, messenger, _ := newTestBot(dripper)

	updates := make(chan tgbotapi.Update, 2)
	updates <- commandUpdate("/start", alice())
	updates <- textUpdate(recipient, alice())
	close(updates)

	done := make(chan struct{})
	go func() {
		bot.Run(context.Background(), updates)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
	assert.Len(t, dripper.calls, 1)
	assert.Len(t, messenger.texts(), 2)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	bot, _, _ := newTestBot(&fakeDripper{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		bot.Run(ctx, make(chan tgbotapi.Update))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFormatEther(t *testing.T) {
	assert.Equal(t, "0.01", formatEther(big.NewInt(10_000_000_000_000_000)))
	assert.Equal(t, "1", formatEther(big.NewInt(1_000_000_000_000_000_000)))
	assert.Equal(t, "0", formatEther(nil))
}
