package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BioHazard786/meshcall/internal/call"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/relay"
	"github.com/BioHazard786/meshcall/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const joinTimeout = 30 * time.Second

// errLeft ends the call group when the user leaves on purpose.
var errLeft = errors.New("left the call")

var (
	flagNoAudio  bool
	flagNoVideo  bool
	flagHeadless bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a call room, creating a new one when no name is given",
	Long: `Join a call room and connect to everyone in it.

Examples:
  meshcall join
  meshcall join brave-otter --name alice
  meshcall join brave-otter --media gstreamer --no-video
  meshcall join brave-otter --headless`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room := ""
		if len(args) > 0 {
			room = args[0]
		}
		return joinRoom(cmd.Context(), room)
	},
}

func joinRoom(ctx context.Context, room string) error {
	cfg, err := LoadConfig(configOptions())
	if err != nil {
		return err
	}

	if room == "" {
		room = relay.NewRoomName(nil)
		ui.PrintInfof("No room given, starting %s", ui.BoldStyle.Render(room))
	}

	sess, err := call.New(call.Options{
		Config:      cfg,
		Constraints: &media.Constraints{Audio: !flagNoAudio, Video: !flagNoVideo},
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer sess.Close()

	sp := ui.NewConnectionSpinner(fmt.Sprintf("Joining %s...", room))
	sp.Start()
	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	err = sess.Join(joinCtx, room)
	cancel()
	if err != nil {
		sp.Error("Could not join " + room)
		return fmt.Errorf("join %s: %w", room, err)
	}
	sp.Stop()
	fmt.Println(ui.RoomInfo{Room: room, Self: sess.Self(), Name: sess.Name()}.View())

	var summary ui.CallSummary
	g, gctx := errgroup.WithContext(ctx)
	if flagHeadless {
		g.Go(func() error { return printEvents(gctx, sess.Events()) })
	} else {
		g.Go(func() error {
			s, err := ui.RunCall(gctx, sess)
			summary = s
			if err != nil {
				return err
			}
			return errLeft
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sess.Leave()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, errLeft) {
		err = nil
	}
	if !flagHeadless {
		fmt.Println()
		ui.RenderCallSummary(os.Stdout, summary)
	}
	return err
}

// printEvents is the headless presenter: one line per event.
func printEvents(ctx context.Context, events <-chan mesh.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return errLeft
			}
			switch e.Type {
			case mesh.EventSessionError, mesh.EventNegotiationFailed:
				ui.PrintWarningf("%s %s %s", e.Type, e.PeerID, describe(e))
			case mesh.EventRemoteStreamUpdated, mesh.EventRemoteMediaState, mesh.EventLocalTrackChanged:
			default:
				ui.PrintInfof("%s %s %s", e.Type, e.PeerID, describe(e))
			}
		}
	}
}

func describe(e mesh.Event) string {
	switch {
	case e.Text != "":
		return e.Text
	case e.Reason != "":
		return e.Reason
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Name
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().BoolVar(&flagNoAudio, "no-audio", false, "Join without a microphone")
	joinCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "Join without a camera")
	joinCmd.Flags().BoolVar(&flagHeadless, "headless", false, "Print events instead of the interactive screen")
}
