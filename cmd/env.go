package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/revenue-digest/internal/config"
	"github.com/sells-group/revenue-digest/internal/digest"
	"github.com/sells-group/revenue-digest/internal/notify"
	"github.com/sells-group/revenue-digest/internal/schedule"
	"github.com/sells-group/revenue-digest/internal/store"
	"github.com/sells-group/revenue-digest/internal/token"
	"github.com/sells-group/revenue-digest/pkg/amocrm"
	"github.com/sells-group/revenue-digest/pkg/telegram"
)

// env holds the shared dependencies for a command.
type env struct {
	Store  store.Store
	CRM    amocrm.Client
	Source *token.StoreSource
	Tokens *token.Provider
}

// Close releases the store.
func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens and migrates the token store and builds the CRM client on
// top of it.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	src := token.NewStoreSource(st, cfg.CRM.AccessToken)
	crm := initCRM(src)
	return &env{
		Store:  st,
		CRM:    crm,
		Source: src,
		Tokens: token.NewProvider(crm, st, cfg.CRM),
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "revenue-digest.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initCRM(src amocrm.TokenSource) amocrm.Client {
	return amocrm.NewClient(cfg.CRM.Domain,
		src,
		amocrm.WithBaseURL(cfg.CRM.URL()),
		amocrm.WithTimeout(cfg.CRM.Timeout()),
		amocrm.WithRateLimit(cfg.CRM.RateLimit),
	)
}

func initTelegram() digest.Sink {
	client := telegram.NewClient(cfg.Telegram.Token,
		telegram.WithBaseURL(cfg.Telegram.BaseURL),
		telegram.WithTimeout(cfg.Telegram.Timeout()),
	)
	return notify.NewTelegram(client, cfg.Telegram.ChatID)
}

// digestOptions maps the report and schedule settings onto runner options.
// The report window is evaluated in the schedule's time zone.
func digestOptions(c *config.Config) (digest.Options, error) {
	daily, err := schedule.Parse(c.Schedule.At, c.Schedule.Timezone)
	if err != nil {
		return digest.Options{}, err
	}
	return digest.Options{
		Formatter: digest.Formatter{
			Header:   c.Report.Header,
			Currency: c.Report.Currency,
		},
		Placeholders: digest.Placeholders{
			User:   c.Report.UnknownUser,
			Status: c.Report.UnknownStatus,
		},
		WonStatusID: c.CRM.WonStatusID,
		Location:    daily.Location,
	}, nil
}

func (e *env) runner(sink digest.Sink) (*digest.Runner, error) {
	opts, err := digestOptions(cfg)
	if err != nil {
		return nil, err
	}
	return digest.NewRunner(e.CRM, sink, opts), nil
}

// ensureAccessToken fails when neither the store nor the config holds an
// access token. Commands that send a digest call it before the first run.
func ensureAccessToken(ctx context.Context, src amocrm.TokenSource) error {
	if _, err := src.AccessToken(ctx); err != nil {
		return err
	}
	return nil
}
