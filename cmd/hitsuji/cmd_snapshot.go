package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steve-o/hitsuji/client"
	"github.com/steve-o/hitsuji/consts"
	"github.com/steve-o/hitsuji/omm"
)

type SnapshotCommand struct {
	Addr      string        `default:"localhost:24002" help:"Provider address."`
	Items     []string      `arg:"" required:"" help:"Item names, e.g. MSFT.O or MSFT.O#close?open=1383728400."`
	ServiceID uint16        `name:"service-id" default:"1" help:"Service id of the requests."`
	Timeout   time.Duration `default:"11s" help:"Reply timeout."`
	Attrib    bool          `help:"Set useAttribInfoInUpdates on the requests."`
}

func (c *SnapshotCommand) Run(ctx context.Context, log *zap.Logger) error {
	cl, err := client.Dial(ctx, c.Addr, client.Config{
		ServiceID:              c.ServiceID,
		RWFVersion:             consts.DefaultRWFVersion,
		Timeout:                c.Timeout,
		UseAttribInfoInUpdates: c.Attrib,
	}, log)
	if err != nil {
		return err
	}
	defer cl.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cl.Run(ctx) })
	g.Go(func() error {
		defer cancel()
		for _, item := range c.Items {
			msg, err := cl.Snapshot(ctx, item)
			if err != nil {
				return fmt.Errorf("%s: %w", item, err)
			}
			printMsg(os.Stdout, item, msg)
		}
		return nil
	})
	return g.Wait()
}

func printMsg(w io.Writer, item string, m *omm.Msg) {
	fmt.Fprintf(w, "%s %s stream=%s data=%s", item, m.Class, m.StreamState, m.DataState)
	if m.Code != omm.CodeNone {
		fmt.Fprintf(w, " code=%s", m.Code)
	}
	if m.Text != "" {
		fmt.Fprintf(w, " text=%q", m.Text)
	}
	if len(m.PermData) > 0 {
		fmt.Fprintf(w, " perm=%X", m.PermData)
	}
	fmt.Fprintln(w)
	for _, f := range m.Fields {
		fmt.Fprintf(w, "  %-10s %4d %s\n", omm.FieldName(f.FID), f.FID, f.Value)
	}
}
