package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/jukebox/internal/catalog"
	"github.com/danmuck/jukebox/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Account menu choices.
const (
	MenuLogin    = 1
	MenuRegister = 2
	MenuQuit     = 3
)

// Catalog menu choices.
const (
	CatalogList     = 1
	CatalogFilter   = 2
	CatalogDownload = 3
	CatalogQuit     = 4
)

// Prompter collects user input for the interactive session.
type Prompter interface {
	MenuChoice(ctx context.Context) (int, error)
	Credentials(ctx context.Context) (username, password string, err error)
	CatalogChoice(ctx context.Context) (int, error)
	FilterChoice(ctx context.Context) (catalog.FilterKind, error)
	FilterText(ctx context.Context) (string, error)
	// TrackOrdinal returns the track to download; zero cancels.
	TrackOrdinal(ctx context.Context) (int, error)
}

// Player hands a downloaded track to a local audio player.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Interactive runs the account menu and then the catalog menu. The server
// accepts one authentication attempt per connection, so every attempt
// uses a fresh connection from Connect.
type Interactive struct {
	Connect  func(ctx context.Context) (*Client, error)
	Prompter Prompter
	Player   Player
	Out      io.Writer
}

func (in *Interactive) Run(ctx context.Context) error {
	for {
		choice, err := in.Prompter.MenuChoice(ctx)
		if err != nil {
			return err
		}
		switch choice {
		case MenuQuit:
			in.printf("Disconnecting...\n")
			return nil
		case MenuLogin, MenuRegister:
		default:
			in.printf("Invalid option, try again.\n")
			continue
		}

		username, password, err := in.Prompter.Credentials(ctx)
		if err != nil {
			return err
		}
		c, err := in.Connect(ctx)
		if err != nil {
			return err
		}

		var reply Reply
		if choice == MenuLogin {
			reply, err = c.Login(ctx, username, password)
		} else {
			reply, err = c.Register(ctx, username, password)
		}
		if err != nil {
			_ = c.Close()
			if !isAuthRejection(err) {
				return err
			}
			log.Debug().Err(err).Str("user", username).Msg("client.Interactive.auth")
			in.printf("%s\n", describe(err, reply))
			if errors.Is(err, ErrSaveFailed) {
				return err
			}
			continue
		}

		if choice == MenuRegister {
			in.printf("Account %s registered.\n", username)
		}
		in.printf("Welcome [%s]!\n", username)
		err = in.catalogMenu(ctx, c)
		_ = c.Close()
		return err
	}
}

func (in *Interactive) catalogMenu(ctx context.Context, c *Client) error {
	for {
		choice, err := in.Prompter.CatalogChoice(ctx)
		if err != nil {
			return err
		}
		switch choice {
		case CatalogList:
			lines, err := c.List(ctx)
			in.printListing(lines)
			if err != nil {
				return err
			}
		case CatalogFilter:
			kind, err := in.Prompter.FilterChoice(ctx)
			if err != nil {
				return err
			}
			text, err := in.Prompter.FilterText(ctx)
			if err != nil {
				return err
			}
			lines, err := c.Filter(ctx, kind, text)
			if errors.Is(err, ErrInvalidFilter) || errors.Is(err, catalog.ErrInvalidFilterKind) {
				in.printf("Invalid filter, try again.\n")
				continue
			}
			in.printListing(lines)
			if err != nil {
				return err
			}
		case CatalogDownload:
			if err := in.download(ctx, c); err != nil {
				return err
			}
		case CatalogQuit:
			in.printf("Goodbye.\n")
			return nil
		default:
			in.printf("Invalid option, try again.\n")
		}
	}
}

func (in *Interactive) download(ctx context.Context, c *Client) error {
	for {
		ordinal, err := in.Prompter.TrackOrdinal(ctx)
		if err != nil {
			return err
		}
		if ordinal == 0 {
			return c.CancelDownload(ctx)
		}
		if ordinal < 0 {
			in.printf("Track number cannot be negative.\n")
			continue
		}

		path, err := c.Download(ctx, ordinal)
		switch {
		case errors.Is(err, ErrAlreadyDownloaded):
			in.printf("Track already downloaded: %s\n", path)
			continue
		case errors.Is(err, ErrNoSuchTrack):
			in.printf("No such track.\n")
			return nil
		case errors.Is(err, ErrRemoteUnavailable):
			in.printf("The server could not open the track.\n")
			return err
		case err != nil:
			return err
		}

		in.printf("Download finished: %s\n", path)
		if in.Player != nil {
			if err := in.Player.Play(ctx, path); err != nil {
				log.Debug().Err(err).Str("path", path).Msg("client.Interactive.play")
				in.printf("Could not play the track. Check that a player is installed.\n")
			}
		}
		return nil
	}
}

func (in *Interactive) printListing(lines []string) {
	in.printf("\nNo - Title - Artist - Album - Genre - Year\n")
	for _, line := range lines {
		in.printf("%s\n", line)
	}
	in.printf("\n")
}

func (in *Interactive) printf(format string, args ...any) {
	if in.Out == nil {
		return
	}
	_, _ = fmt.Fprintf(in.Out, format, args...)
}

func isAuthRejection(err error) bool {
	return errors.Is(err, ErrBadCredentials) ||
		errors.Is(err, ErrEmptyStore) ||
		errors.Is(err, ErrDuplicateUser) ||
		errors.Is(err, ErrSaveFailed) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, session.ErrMalformedHandshake)
}

func describe(err error, reply Reply) string {
	switch {
	case errors.Is(err, ErrBadCredentials):
		return "Wrong username or password."
	case errors.Is(err, ErrEmptyStore):
		return "No accounts registered yet. Register one first."
	case errors.Is(err, ErrDuplicateUser):
		return "That username is already registered."
	case errors.Is(err, ErrSaveFailed):
		return "The server could not save the new account."
	case errors.Is(err, ErrStorageUnavailable):
		return "The server could not open its account data."
	case errors.Is(err, session.ErrMalformedHandshake):
		return "Username and password must be 1 to 25 characters and may not contain ':'."
	default:
		return reply.Token
	}
}
