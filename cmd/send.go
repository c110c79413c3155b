package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/bmcam/internal/transfer"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send FILE",
	Short: "Stream a file over the link as chunked text",
	Long: `Stream a file to the bridge's transmit topic as a start marker, one base64
segment per line and an end marker. There is no acknowledgement; lines are
paced by the configured delay.

Examples:
  bmcam send photo.jpg
  bmcam send clip.mp4 --kind VID --chunk-size 200 --delay 3s`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("chunk-size") {
			cfg.Transfer.ChunkSize = sendChunkSize
		}
		if cmd.Flags().Changed("delay") {
			cfg.Transfer.Delay = sendDelay
		}
		t, node, err := openNode(cfg)
		if err != nil {
			return err
		}
		defer t.Close()
		return runSend(cmd.Context(), transfer.NewSender(node, cfg.Transfer), args[0], sendKind, cmd.OutOrStdout())
	},
}

var (
	sendKind      string
	sendChunkSize int
	sendDelay     time.Duration
)

func init() {
	sendCmd.Flags().StringVarP(&sendKind, "kind", "k", transfer.KindImage, "transfer kind tag (IMG, VID, ...)")
	sendCmd.Flags().IntVar(&sendChunkSize, "chunk-size", transfer.DefaultChunkSize, "base64 characters per segment")
	sendCmd.Flags().DurationVar(&sendDelay, "delay", 5*time.Second, "pause between lines")
}

type fileSender interface {
	SendFile(ctx context.Context, path, kind string) error
}

func runSend(ctx context.Context, s fileSender, path, kind string, out io.Writer) error {
	kind = strings.ToUpper(strings.TrimSpace(kind))
	if kind == "" {
		return fmt.Errorf("%w: empty --kind", errConfig)
	}
	if err := s.SendFile(ctx, path, kind); err != nil {
		return fmt.Errorf("send %s: %w", path, err)
	}
	fmt.Fprintf(out, "sent %s as %s\n", path, kind)
	return nil
}

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish TOPIC PAYLOAD",
	Short: "Publish one message on the bus",
	Long: `Publish one message on the bus as this node.

Examples:
  bmcam publish camera/capture/image "res=1080p,burst=2"
  bmcam publish spotter/transmit-data 48656c6c6f --hex --type 1`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		t, node, err := openNode(cfg)
		if err != nil {
			return err
		}
		defer t.Close()
		return runPublish(node, args[0], args[1], publishType, publishHex, cmd.OutOrStdout())
	},
}

var (
	publishType uint8
	publishHex  bool
)

func init() {
	publishCmd.Flags().Uint8VarP(&publishType, "type", "t", 0, "payload type byte")
	publishCmd.Flags().BoolVar(&publishHex, "hex", false, "PAYLOAD is hex encoded")
}

type publisher interface {
	Publish(topic string, payloadType uint8, payload []byte) error
}

func runPublish(p publisher, topic, payload string, payloadType uint8, isHex bool, out io.Writer) error {
	data := []byte(payload)
	if isHex {
		b, err := hex.DecodeString(strings.ReplaceAll(payload, " ", ""))
		if err != nil {
			return fmt.Errorf("%w: payload is not hex: %w", errConfig, err)
		}
		data = b
	}
	if err := p.Publish(topic, payloadType, data); err != nil {
		return err
	}
	fmt.Fprintf(out, "published %d bytes on %s\n", len(data), topic)
	return nil
}
