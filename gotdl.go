// Package gotdl is a Go client for chat-protocol backends that speak the
// TDLib-style JSON interface: requests, responses and updates exchanged as
// typed JSON objects.
//
// # Overview
//
// The backend owns networking, storage and cryptography. gotdl owns the
// facade: it opens the backend session, answers the backend's parameter
// requests, negotiates login, correlates responses with requests and turns
// everything else into events.
//
// # Organization
//
//   - github.com/localrivet/gotdl/client: the Client, login negotiation and events
//   - github.com/localrivet/gotdl/config: defaults, config files, environment and validation
//   - github.com/localrivet/gotdl/protocol: backend objects, errors and authorization states
//   - github.com/localrivet/gotdl/transport: the backend contract
//   - github.com/localrivet/gotdl/transport/stdio: a backend running as a child process
//   - github.com/localrivet/gotdl/transport/ws: a backend behind a WebSocket gateway
//   - github.com/localrivet/gotdl/transport/inmemory: a scripted backend for tests
//   - github.com/localrivet/gotdl/events: the typed event emitter
//   - github.com/localrivet/gotdl/hooks: interception points around every message
//
// # Basic Usage
//
//	backend := stdio.NewBackend("./tdjson-stdio", nil)
//
//	cfg := config.Default()
//	cfg.APIID = 12345
//	cfg.APIHash = "0123456789abcdef0123456789abcdef"
//
//	c, err := client.New(backend, cfg, client.WithLogger(logx.NewDefaultLogger()))
//	if err != nil {
//	  log.Fatalf("Failed to create client: %v", err)
//	}
//	defer c.Close(context.Background())
//
//	client.On(c, client.EventUpdate, func(update protocol.Object) {
//	  fmt.Println(update.Type())
//	})
//
//	// Prompts on the terminal for anything the login details leave out.
//	if err := c.ConnectAndLogin(ctx, func() client.LoginDetails {
//	  return client.BotToken(os.Getenv("BOT_TOKEN"))
//	}); err != nil {
//	  log.Fatalf("Failed to log in: %v", err)
//	}
//
//	me, err := c.Invoke(ctx, protocol.NewObject("getMe", nil))
//
// Objects use the "_" key for their type name; it is renamed to and from the
// backend's "@type" on the wire.
//
// # Versioning
//
// gotdl follows semantic versioning. The current version is available through the Version constant.
package gotdl

// Version is the current version of the gotdl library
const Version = "0.1.0"
