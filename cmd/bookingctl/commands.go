package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"ms-booking/internal/bootstrap"
	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/gateway"
	"ms-booking/internal/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// withStack connects, runs fn and drains queued notifications before closing.
func withStack(ctx context.Context, fn func(*bootstrap.Stack) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.NewNopLogger()
	if os.Getenv("BOOKINGCTL_VERBOSE") == "true" {
		log = logger.NewLogger("bookingctl")
	}

	bunDB, redisClient, err := bootstrap.Connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	stack := bootstrap.Build(cfg, bunDB, redisClient, log)
	go stack.Dispatcher.Run(ctx)

	runErr := fn(stack)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stack.Close(closeCtx)
	return runErr
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired pre-bookings and finish pending side effects once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(s *bootstrap.Stack) error {
				result, err := s.NewReaper().SweepOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired: %d\nresumed: %d\n", result.Expired, result.Resumed)
				return nil
			})
		},
	}
}

func replayCallbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay-callback [payload.json|-]",
		Short: "Apply a gateway callback captured from logs or the gateway portal",
		Long: `Reads an IPN body and runs it through the same reconciliation as the
HTTP endpoint. The signature is verified, so only genuine payloads apply.

Examples:
  bookingctl replay-callback ipn-2026-10-19.json
  pbpaste | bookingctl replay-callback -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readCallback(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return withStack(cmd.Context(), func(s *bootstrap.Stack) error {
				ack, err := s.Reconciler.Reconcile(cmd.Context(), payload)
				if err != nil {
					return fmt.Errorf("callback not applied: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), ack)
			})
		},
	}
}

func readCallback(stdin io.Reader, path string) (*gateway.CallbackPayload, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var payload gateway.CallbackPayload
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid callback payload: %w", err)
	}
	return &payload, nil
}

type signOptions struct {
	bookingID  string
	amount     int64
	transID    string
	resultCode int
}

func signCallbackCmd() *cobra.Command {
	var opts signOptions
	cmd := &cobra.Command{
		Use:   "sign-callback",
		Short: "Print a signed IPN body for a booking, for sandbox testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			payload, err := buildCallback(cfg.Gateway, opts, time.Now())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), payload)
		},
	}

	cmd.Flags().StringVar(&opts.bookingID, "booking-id", "", "booking id the callback settles")
	cmd.Flags().Int64Var(&opts.amount, "amount", 0, "paid amount in VND")
	cmd.Flags().StringVar(&opts.transID, "trans-id", "", "gateway transaction id (generated when empty)")
	cmd.Flags().IntVar(&opts.resultCode, "result-code", gateway.ResultSuccess, "gateway result code, 0 means paid")
	_ = cmd.MarkFlagRequired("booking-id")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func buildCallback(cfg config.GatewayConfig, opts signOptions, now time.Time) (*gateway.CallbackPayload, error) {
	extra, err := gateway.EncodeCorrelation(opts.bookingID)
	if err != nil {
		return nil, err
	}
	transID := opts.transID
	if transID == "" {
		transID = strconv.FormatInt(now.UnixNano()%1e10, 10)
	}
	message := "Successful."
	if opts.resultCode != gateway.ResultSuccess {
		message = "Transaction failed."
	}

	payload := &gateway.CallbackPayload{
		PartnerCode:  cfg.PartnerCode,
		OrderID:      "SANDBOX-" + uuid.NewString()[:8],
		RequestID:    uuid.NewString(),
		Amount:       json.Number(strconv.FormatInt(opts.amount, 10)),
		OrderInfo:    "Tour booking",
		OrderType:    "momo_wallet",
		TransID:      json.Number(transID),
		ResultCode:   json.Number(strconv.Itoa(opts.resultCode)),
		Message:      message,
		PayType:      "qr",
		ResponseTime: json.Number(strconv.FormatInt(now.UnixMilli(), 10)),
		ExtraData:    extra,
	}
	gateway.NewClient(cfg, nil, nil).SignCallback(payload)
	return payload, nil
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [booking-code]",
		Short: "Print a booking and its payment ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(s *bootstrap.Stack) error {
				b, err := s.Service.GetBookingByCode(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				payments, err := s.Service.ListPayments(cmd.Context(), b.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"booking":           b,
					"capacity_applied":  b.CapacityApplied,
					"notification_sent": b.NotificationSent,
					"payments":          payments,
				})
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Manage the database schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			bunDB, redisClient, err := bootstrap.Connect(cmd.Context(), cfg, logger.NewNopLogger())
			if err != nil {
				return err
			}
			defer bunDB.Close()
			defer redisClient.Close()

			runner := migrations.NewRunner(bunDB.DB, migrations.Options{SeedData: seed}, nil)
			defer runner.Close()

			switch args[0] {
			case "up":
				err = runner.Up()
			case "down":
				err = runner.Down()
			case "version":
				var version uint
				var dirty bool
				version, dirty, err = runner.Version()
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "version: %d dirty: %t\n", version, dirty)
				}
			default:
				err = fmt.Errorf("unknown migrate action %q", args[0])
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "also load the demo tour catalog")
	return cmd
}
