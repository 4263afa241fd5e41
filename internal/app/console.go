// Package app wires the console's components from a resolved profile and the
// environment: logger, protocol client, session manager, renderer, health
// monitor and, when requested, telemetry export.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/plcweb/console/internal/auth"
	"github.com/plcweb/console/internal/config"
	"github.com/plcweb/console/internal/content"
	apperrors "github.com/plcweb/console/internal/errors"
	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/logging"
	"github.com/plcweb/console/internal/protocol"
	"github.com/plcweb/console/internal/registry"
	"github.com/plcweb/console/internal/telemetry"
	"github.com/plcweb/console/internal/ui/shell"
)

// Console holds the wired components for one profile.
type Console struct {
	Env      *config.Env
	Config   *config.Manager
	Profile  *config.Profile
	Logger   *logging.Logger
	Client   *protocol.Client
	Builder  *jsonrpc.Builder
	Session  *auth.Manager
	Renderer *content.Renderer
	Health   *registry.HealthMonitor

	providers *telemetry.Providers
}

// Option configures New.
type Option func(*options)

type options struct {
	version     string
	traceWriter io.Writer
	plain       bool
	configOpts  []config.ManagerOption
}

// WithVersion sets the version reported in the User-Agent and telemetry resource.
func WithVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// WithTraceWriter sets where spans and metrics are written when tracing is on.
func WithTraceWriter(w io.Writer) Option {
	return func(o *options) { o.traceWriter = w }
}

// WithPlainOutput disables colors in rendered output.
func WithPlainOutput(plain bool) Option {
	return func(o *options) { o.plain = plain }
}

// WithConfigOptions passes options to the profile manager.
func WithConfigOptions(opts ...config.ManagerOption) Option {
	return func(o *options) { o.configOpts = append(o.configOpts, opts...) }
}

// New builds a Console from env. The logger it creates becomes the global logger.
func New(env *config.Env, opts ...Option) (*Console, error) {
	o := &options{version: "dev", traceWriter: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:     logging.ParseLevel(env.LogLevel),
		Format:    env.LogFormat,
		Output:    env.LogFile,
		Component: "plcweb",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.SetGlobalLogger(logger)

	configOpts := o.configOpts
	if env.ConfigPath != "" {
		configOpts = append(configOpts, config.WithConfigPath(env.ConfigPath))
	}
	cfgMgr, err := config.NewManager(configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	profile, err := config.ResolveProfile(cfgMgr, env)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profile: %w", err)
	}
	logger.LogConfigLoad(cfgMgr.GetConfigPath(), profile.Name)

	c := &Console{
		Env:     env,
		Config:  cfgMgr,
		Profile: profile,
		Logger:  logger,
		Builder: jsonrpc.NewBuilder(jsonrpc.WithChecks(profile.ChecksEnabled())),
		Health:  registry.NewHealthMonitor(registry.WithMonitorLogger(logging.GetRegistryLogger())),
	}

	var theme *config.Theme
	if profile.Theme != "" {
		if loaded, err := cfgMgr.LoadTheme(profile.Theme); err == nil {
			theme = loaded
		} else {
			logger.Warn("Theme not found, using defaults", "theme", profile.Theme)
		}
	}
	var renderOpts []content.RendererOption
	if o.plain {
		renderOpts = append(renderOpts, content.WithPlainOutput())
	}
	if c.Renderer, err = content.NewRenderer(theme, renderOpts...); err != nil {
		return nil, err
	}

	clientOpts := []protocol.Option{
		protocol.WithLogger(logging.GetProtocolLogger()),
		protocol.WithInsecureSkipVerify(profile.InsecureSkipVerify),
		protocol.WithTimeout(profile.RequestTimeout),
		protocol.WithUserAgent("plcweb/" + o.version),
	}
	if env.Trace {
		providers, err := telemetry.SetupStdout(o.traceWriter, o.version)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		c.providers = providers

		hookCfg := telemetry.DefaultConfig()
		hookCfg.TracerProvider = providers.TracerProvider
		hookCfg.MeterProvider = providers.MeterProvider
		hookCfg.Controller = profile.Name
		clientOpts = append(clientOpts,
			protocol.WithHook(telemetry.NewHook(hookCfg)),
			protocol.WithTransportWrapper(telemetry.Transport(nil)))
	}

	if c.Client, err = protocol.NewClient(profile.Host, clientOpts...); err != nil {
		return nil, err
	}
	c.Session = auth.NewManager(c.Client, c.Builder, auth.WithLogger(logging.GetAuthLogger()))
	return c, nil
}

// Credentials returns the login credentials of the profile.
func (c *Console) Credentials() auth.Credentials {
	creds := auth.Credentials{
		User:     c.Profile.User,
		Password: c.Profile.Password,
		Mode:     c.Profile.Mode,
	}
	if c.Profile.IncludeWebAppCookie {
		include := true
		creds.IncludeWebAppCookie = &include
	}
	return creds
}

// Connect queries the API version and logs in when the profile names a user.
func (c *Console) Connect(ctx context.Context) error {
	if _, err := c.Session.Initialize(ctx); err != nil {
		return err
	}
	if c.Profile.User == "" {
		return nil
	}
	_, err := c.Session.Login(ctx, c.Credentials())
	return err
}

// Close logs out an active session and releases the client and exporters.
func (c *Console) Close(ctx context.Context) error {
	var errs []error
	if c.Session.State() == auth.Authenticated {
		if err := c.Session.Logout(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Client.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.providers != nil {
		if err := c.providers.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Download streams the file at resource into w.
func (c *Console) Download(ctx context.Context, resource string, w io.Writer) (int64, error) {
	req, err := c.Builder.FilesDownload(resource)
	if err != nil {
		return 0, err
	}
	var ticket string
	if err := c.Client.Call(ctx, req, &ticket); err != nil {
		return 0, err
	}
	defer c.closeTicket(ctx, ticket)
	return c.Client.DownloadTicketTo(ctx, ticket, w)
}

// Upload creates the file at resource with size bytes read from r.
func (c *Console) Upload(ctx context.Context, resource string, r io.Reader, size int64) error {
	req, err := c.Builder.FilesCreate(resource)
	if err != nil {
		return err
	}
	var ticket string
	if err := c.Client.Call(ctx, req, &ticket); err != nil {
		return err
	}
	defer c.closeTicket(ctx, ticket)
	return c.Client.UploadTicketFrom(ctx, ticket, r, size)
}

func (c *Console) closeTicket(ctx context.Context, ticket string) {
	req, err := c.Builder.CloseTicket(ticket)
	if err == nil {
		err = c.Client.Call(ctx, req, nil)
	}
	if err != nil {
		c.Logger.Debug("Ticket not closed", "ticket", ticket, "error", err.Error())
	}
}

// Shell creates the interactive shell model for this console.
func (c *Console) Shell() *shell.Model {
	return shell.NewModel(shell.Config{
		Profile:        c.Profile.Name,
		Credentials:    c.Credentials(),
		Session:        c.Session,
		Client:         c.Client,
		Builder:        c.Builder,
		Renderer:       c.Renderer,
		Logger:         logging.GetUILogger(),
		CommandTimeout: c.Profile.RequestTimeout,
	})
}

// RenderError renders err as a contextual error panel.
func (c *Console) RenderError(err error) string {
	ce := apperrors.NewHandler("cli").Process(err, "")
	out, rerr := c.Renderer.RenderError(ce)
	if rerr != nil {
		return err.Error()
	}
	return out
}
