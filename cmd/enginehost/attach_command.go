package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"enginehost/internal/config"
	"enginehost/internal/controller"
	"enginehost/internal/engine"
	"enginehost/internal/eventloop"
	"enginehost/internal/ipc"
	"enginehost/internal/metrics"
	"enginehost/internal/notifications"
	"enginehost/internal/platform"
)

type attachOptions struct {
	local      bool
	foreground bool
	noInput    bool
	action     string
	uri        string
	extras     []string
	duration   time.Duration
}

func newAttachCommand(ctx *commandContext) *cobra.Command {
	opts := attachOptions{}
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Run a controller session against the worker",
		Long: `Run a controller session: construct the engine, start and bind the worker,
then accept commands on stdin until EOF, "quit", a signal or --for elapses.

Session commands:
  fg on|off              acquire or release the execution grant
  intent <action> [uri]  forward an intent to the engine
  state                  print binding state
  quit                   end the session`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(cmd, ctx, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.local, "local", false, "Host the worker in this process instead of the daemon")
	cmd.Flags().BoolVar(&opts.foreground, "foreground", false, "Acquire the execution grant once bound")
	cmd.Flags().BoolVar(&opts.noInput, "no-input", false, "Ignore stdin and run until a signal or --for elapses")
	cmd.Flags().StringVar(&opts.action, "action", "main", "Action of the launch intent")
	cmd.Flags().StringVar(&opts.uri, "uri", "", "URI of the launch intent")
	cmd.Flags().StringArrayVarP(&opts.extras, "extra", "e", nil, "Launch intent extra as key=value (repeatable)")
	cmd.Flags().DurationVar(&opts.duration, "for", 0, "End the session after this long (0 runs until stopped)")
	return cmd
}

// sessionHost is the host a controller session binds against.
type sessionHost struct {
	host     controller.Host
	resolver controller.Resolver
	close    func()
}

func newSessionHost(cmdCtx *commandContext, cfg *config.Config, local bool, collector *metrics.Collector, logger *slog.Logger) sessionHost {
	if local {
		p := platform.New(platform.Options{
			Grant:    cfg.Grant,
			Notifier: notifications.NewService(cfg),
			Logger:   logger,
			Observer: collector.PlatformObserver(),
		})
		return sessionHost{host: p, resolver: controller.LocalResolver(p.Resolve), close: p.Close}
	}
	remote := ipc.NewRemoteHost(ipc.RemoteOptions{
		SocketPath: cmdCtx.socketPath(),
		ClientID:   "attach",
		BindWait:   cfg.ConnectTimeout(),
		Heartbeat:  cfg.HeartbeatInterval(),
		Logger:     logger,
	})
	return sessionHost{host: remote, resolver: remote, close: func() { _ = remote.Close() }}
}

func runAttach(cmd *cobra.Command, cmdCtx *commandContext, opts attachOptions) error {
	cfg, err := cmdCtx.ensureConfig()
	if err != nil {
		return err
	}
	intent, err := buildIntent(opts.action, opts.uri, opts.extras)
	if err != nil {
		return err
	}
	logger, err := cmdCtx.sessionLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	collector := metrics.NewCollector()
	host := newSessionHost(cmdCtx, cfg, opts.local, collector, logger)
	defer host.close()

	looper := eventloop.NewLooper()
	defer looper.Close()

	var reconnect backoff.BackOff
	if cfg.Binding.Reconnect {
		reconnect = controller.NewReconnectBackOff(cfg.ReconnectMax())
	}
	ctrl := controller.New(newNative(cfg, logger), host.host, host.resolver, controller.Options{
		Poster:         looper,
		ConnectTimeout: cfg.ConnectTimeout(),
		Reconnect:      reconnect,
		Logger:         logger,
		Observer:       collector.ControllerObserver(),
	})

	out := cmd.OutOrStdout()
	if err := ctrl.OnCreate(ctx, intent); err != nil {
		if ctrl.Constructed() {
			_ = ctrl.OnDestroy()
		}
		return err
	}

	sessionErr := attachSession(ctx, ctrl, cmd.InOrStdin(), out, opts)
	destroyErr := ctrl.OnDestroy()
	looper.Sync()
	fmt.Fprintln(out, "Controller destroyed; worker keeps running")
	return errors.Join(sessionErr, destroyErr)
}

func attachSession(ctx context.Context, ctrl *controller.Controller, in io.Reader, out io.Writer, opts attachOptions) error {
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	key, err := ctrl.WaitBound(waitCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("bind worker: %w", err)
	}
	fmt.Fprintf(out, "Bound to worker %s\n", key)

	if opts.foreground {
		if err := setForeground(ctx, ctrl, out, true); err != nil {
			return err
		}
	}

	if opts.noInput {
		<-ctx.Done()
		return nil
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			done, err := runSessionCommand(ctx, ctrl, out, line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if done {
				return nil
			}
		}
	}
}

func runSessionCommand(ctx context.Context, ctrl *controller.Controller, out io.Writer, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return true, nil
	case "fg", "foreground":
		if len(fields) != 2 {
			return false, errors.New("usage: fg on|off")
		}
		active, err := parseOnOff(fields[1])
		if err != nil {
			return false, err
		}
		return false, setForeground(ctx, ctrl, out, active)
	case "intent":
		if len(fields) < 2 {
			return false, errors.New("usage: intent <action> [uri]")
		}
		intent := engine.Intent{Action: fields[1]}
		if len(fields) > 2 {
			intent.URI = fields[2]
		}
		forwarded, err := ctrl.OnNewIntent(intent)
		if err != nil {
			return false, err
		}
		if forwarded {
			fmt.Fprintf(out, "Forwarded %q to the engine\n", intent.Action)
		} else {
			fmt.Fprintln(out, "Engine not constructed; intent ignored")
		}
		return false, nil
	case "state":
		key, bound := ctrl.Worker()
		worker := "none"
		if bound {
			worker = key.String()
		}
		fmt.Fprintf(out, "State: %s  Worker: %s  Reconnects: %d\n", stateLabel(ctrl.State().String()), worker, ctrl.Reconnects())
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
}

func setForeground(ctx context.Context, ctrl *controller.Controller, out io.Writer, active bool) error {
	result, err := ctrl.SetForegroundServiceActive(ctx, active)
	if err != nil {
		return err
	}
	switch {
	case !result.Delivered:
		fmt.Fprintf(out, "Request dropped: controller is %s\n", ctrl.State())
	case active:
		fmt.Fprintf(out, "Foreground active (notification #%d %q)\n", result.Descriptor.ID, result.Descriptor.Title)
	default:
		fmt.Fprintln(out, "Foreground released")
	}
	return nil
}
