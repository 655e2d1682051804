package services

import (
	"bufio"
	context2 "context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"
	tb "gopkg.in/telebot.v3"

	"github.com/requiem-ai/gochat/config"
	"github.com/requiem-ai/gochat/context"
)

// SetupService asks for missing Telegram settings on the terminal before the bot starts
// and saves the answers to .env. It is registered only when the Telegram front-end is enabled.
type SetupService struct {
	context.DefaultService

	Config *config.Config
}

const SETUP_SVC = "setup_svc"

func (svc SetupService) Id() string {
	return SETUP_SVC
}

func (svc *SetupService) Configure(ctx *context.Context) error {
	if err := svc.DefaultService.Configure(ctx); err != nil {
		return err
	}

	if !svc.Config.Telegram.Enabled {
		return nil
	}

	return svc.runTelegramSetup()
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func (svc *SetupService) runTelegramSetup() error {
	cfg := &svc.Config.Telegram
	if cfg.Secret == "" {
		if !isInteractive() {
			return nil
		}

		fmt.Fprintln(os.Stdout, "GoChat Telegram setup")
		fmt.Fprintln(os.Stdout, "")
		fmt.Fprintln(os.Stdout, "BotFather tips:")
		fmt.Fprintln(os.Stdout, "- Create a bot with /newbot, then copy the token.")
		fmt.Fprintln(os.Stdout, "- No webhook needed; this service uses long polling.")
		fmt.Fprintln(os.Stdout, "")

		secret, err := promptSecret("Bot token (from BotFather /newbot)")
		if err != nil {
			return err
		}
		cfg.Secret = secret

		envPath, err := envFilePath()
		if err != nil {
			return err
		}
		if err := updateEnvFile(envPath, map[string]string{
			"TELEGRAM_SECRET": secret,
		}); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Telegram setup saved to .env.")
	}

	if err := svc.registerTelegramBotCommands(cfg.Secret); err != nil {
		return err
	}
	return svc.runTelegramUserIDSetup(cfg.Secret)
}

func (svc *SetupService) runTelegramUserIDSetup(secret string) error {
	cfg := &svc.Config.Telegram
	if cfg.AllowedUserID != 0 || !isInteractive() {
		return nil
	}
	if strings.TrimSpace(secret) == "" {
		return errors.New("telegram bot token is required before user verification")
	}

	reader := bufio.NewReader(os.Stdin)
	if !askYesNo(reader, "Restrict the bot to your own Telegram account? (y/N): ") {
		return nil
	}

	code, err := svc.generateTelegramVerificationCode()
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Telegram user verification")
	fmt.Fprintln(os.Stdout, "Send this code to the bot in Telegram to authorize your user:")
	fmt.Fprintln(os.Stdout, code)
	fmt.Fprintln(os.Stdout, "")

	userID, err := svc.waitForTelegramVerification(secret, code, 5*time.Minute)
	if err != nil {
		return err
	}
	cfg.AllowedUserID = userID

	envPath, err := envFilePath()
	if err != nil {
		return err
	}

	if err := updateEnvFile(envPath, map[string]string{
		"TELEGRAM_ALLOWED_USER_ID": strconv.FormatInt(userID, 10),
	}); err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, "TELEGRAM_ALLOWED_USER_ID saved to .env.")
	return nil
}

func (svc *SetupService) registerTelegramBotCommands(secret string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("telegram bot token is required to register commands")
	}

	bot, err := tb.NewBot(tb.Settings{
		Token:  secret,
		Poller: &tb.LongPoller{Timeout: 1 * time.Second},
	})
	if err != nil {
		return err
	}

	if err := bot.SetCommands(botCommands(), tb.CommandScope{Type: tb.CommandScopeDefault}); err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, "Telegram commands and menu updated.")
	return nil
}

func botCommands() []tb.Command {
	return []tb.Command{
		{Text: "start", Description: "Show quick start instructions"},
		{Text: "key", Description: "Set your OpenAI API key: /key <key>"},
		{Text: "cancel", Description: "Stop the reply being written"},
		{Text: "clear", Description: "Forget the conversation"},
		{Text: "history", Description: "Show the conversation"},
		{Text: "end", Description: "End the session and forget the key"},
	}
}

// generateTelegramVerificationCode returns a zero-padded six digit code.
func (svc *SetupService) generateTelegramVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// waitForTelegramVerification polls the bot until someone sends code and returns their user ID.
func (svc *SetupService) waitForTelegramVerification(secret, code string, timeout time.Duration) (int64, error) {
	bot, err := tb.NewBot(tb.Settings{
		Token:  secret,
		Poller: &tb.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return 0, err
	}

	ctx, cancel := context2.WithTimeout(context2.Background(), timeout)
	defer cancel()

	verified := make(chan int64, 1)
	bot.Handle(tb.OnText, func(c tb.Context) error {
		sender := c.Sender()
		if sender == nil || strings.TrimSpace(c.Text()) != code {
			return nil
		}
		select {
		case verified <- sender.ID:
			return c.Send("Verified. Head back to the terminal to finish setup.")
		default:
			return nil
		}
	})

	go bot.Start()
	defer bot.Stop()

	select {
	case userID := <-verified:
		return userID, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("telegram verification: no code received within %s", timeout)
	}
}

// askYesNo prints question and reports whether the answer starts with y.
func askYesNo(in *bufio.Reader, question string) bool {
	fmt.Fprint(os.Stdout, question)
	answer, err := in.ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return strings.HasPrefix(answer, "y")
}

// promptSecret reads a required value from the terminal without echoing it.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	for {
		fmt.Fprintf(os.Stdout, "%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stdout, "")
		if err != nil {
			return "", fmt.Errorf("read %s: %w", label, err)
		}

		value := strings.TrimSpace(string(raw))
		if value == "" {
			fmt.Fprintln(os.Stdout, "Value required.")
			continue
		}
		return value, nil
	}
}

func envFilePath() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	return filepath.Join(wd, ".env"), nil
}

// updateEnvFile merges updates into the .env file at path, creating it when missing.
// The file is rewritten by godotenv, so keys come out sorted and comments are not kept.
func updateEnvFile(path string, updates map[string]string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read %s: %w", path, err)
		}
		env = make(map[string]string, len(updates))
	}

	// godotenv.Write truncates an existing file and keeps its mode.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	f.Close()
	if err := os.Chmod(path, 0o600); err != nil {
		return err
	}

	for key, value := range updates {
		env[key] = value
	}

	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
