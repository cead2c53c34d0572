// The placed CLI packs r/place style placement logs into seekable tile
// archives and renders archives back out to images.
package main

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"image/png"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/codetheweb/placed/archive"
	"github.com/codetheweb/placed/archive/storage"
	"github.com/codetheweb/placed/player"
)

// csvTimeLayout matches the timestamp column of the published placement
// datasets, e.g. "2022-04-01 12:55:57.168 UTC".
const csvTimeLayout = "2006-01-02 15:04:05.999 MST"

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	app := &cli.App{
		Name:  "placed",
		Usage: "pack tile placement history into a seekable archive and play it back",
		Commands: []*cli.Command{
			packCommand(log.Sugar()),
			renderCommand(log.Sugar()),
			infoCommand(log.Sugar()),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Sugar().Fatal(err)
	}
}

func packCommand(log *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:  "pack",
		Usage: "repack placement data from a CSV into a tile archive",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Usage: "placement CSV file", Required: true},
			&cli.StringFlag{Name: "out", Usage: "archive file to create", Required: true},
			&cli.BoolFlag{Name: "snapshots", Usage: "write a cumulative PNG snapshot per chunk boundary"},
			&cli.UintFlag{Name: "num-chunks", Value: archive.DefaultNumChunks, Usage: "nominal tile chunk count"},
			&cli.UintFlag{Name: "width", Value: archive.DefaultCanvasWidth, Usage: "canvas width"},
			&cli.UintFlag{Name: "height", Value: archive.DefaultCanvasHeight, Usage: "canvas height"},
		},
		Action: func(c *cli.Context) error {
			in, err := os.Open(c.String("in"))
			if err != nil {
				return err
			}
			defer in.Close()

			store, err := storage.OpenBoltStore(c.String("out"))
			if err != nil {
				return err
			}
			defer store.Close()

			opts := []archive.WriterOption{
				archive.WithNumChunks(uint32(c.Uint("num-chunks"))),
				archive.WithCanvasSize(uint16(c.Uint("width")), uint16(c.Uint("height"))),
			}
			if c.Bool("snapshots") {
				opts = append(opts, archive.WithSnapshots())
			}
			writer := archive.NewWriter(log, store, opts...)

			records := csv.NewReader(in)
			// header row
			if _, err := records.Read(); err != nil {
				return fmt.Errorf("could not read csv header: %w", err)
			}

			rows := 0
			for {
				row, err := records.Read()
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}

				placedAt, color, x, y, err := parsePlacementRow(row)
				if err != nil {
					return fmt.Errorf("row %d: %w", rows+2, err)
				}
				if err := writer.AddTile(x, y, color, placedAt); err != nil {
					return err
				}

				rows++
				if rows%1_000_000 == 0 {
					log.Infof("ingested %d placements", rows)
				}
			}

			meta, err := writer.Finalize(c.Context)
			if err != nil {
				return err
			}
			log.Infof("packed %d placements into %d chunks", meta.TotalRecords, len(meta.ChunkDescriptions))
			return nil
		},
	}
}

// parsePlacementRow decodes one dataset row: timestamp, user id, hex color,
// quoted "x,y" coordinate.
func parsePlacementRow(row []string) (time.Time, archive.Color, uint16, uint16, error) {
	if len(row) < 4 {
		return time.Time{}, archive.Color{}, 0, 0, fmt.Errorf("expected 4 columns, got %d", len(row))
	}

	placedAt, err := time.Parse(csvTimeLayout, row[0])
	if err != nil {
		return time.Time{}, archive.Color{}, 0, 0, err
	}

	color, err := parseHexColor(row[2])
	if err != nil {
		return time.Time{}, archive.Color{}, 0, 0, err
	}

	coords := strings.Split(strings.ReplaceAll(row[3], `"`, ""), ",")
	if len(coords) != 2 {
		return time.Time{}, archive.Color{}, 0, 0, fmt.Errorf("expected an x,y coordinate, got %q", row[3])
	}
	x, err := strconv.ParseUint(strings.TrimSpace(coords[0]), 10, 16)
	if err != nil {
		return time.Time{}, archive.Color{}, 0, 0, err
	}
	y, err := strconv.ParseUint(strings.TrimSpace(coords[1]), 10, 16)
	if err != nil {
		return time.Time{}, archive.Color{}, 0, 0, err
	}

	return placedAt, color, uint16(x), uint16(y), nil
}

func parseHexColor(s string) (archive.Color, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "#"))
	if err != nil {
		return archive.Color{}, fmt.Errorf("could not parse color %q: %w", s, err)
	}
	if len(raw) != 3 && len(raw) != 4 {
		return archive.Color{}, fmt.Errorf("could not parse color %q: expected 3 or 4 channels", s)
	}
	c := archive.Color{0, 0, 0, 0xFF}
	copy(c[:], raw)
	return c, nil
}

func renderCommand(log *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:  "render",
		Usage: "render archive history to a PNG image",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "archive", Usage: "archive file", Required: true},
			&cli.StringFlag{Name: "out", Usage: "PNG file to write", Required: true},
			&cli.Uint64Flag{Name: "up-to-ms", Usage: "render history up to this timestamp; 0 renders everything"},
		},
		Action: func(c *cli.Context) error {
			store, err := storage.OpenBoltStore(c.String("archive"))
			if err != nil {
				return err
			}
			defer store.Close()

			reader, err := archive.OpenReader(log, store)
			if err != nil {
				return err
			}

			engine, err := player.NewEngine(log, reader, reader.Meta)
			if err != nil {
				return err
			}

			target := uint32(c.Uint64("up-to-ms"))
			if target == 0 {
				target = reader.Meta.LastTimestampMS
			}

			res, err := engine.Advance(target, time.Duration(target)*time.Millisecond)
			if err != nil {
				return err
			}
			log.Infof("resolved history up to %dms", res.MaxUsedMS)

			out, err := os.Create(c.String("out"))
			if err != nil {
				return err
			}
			defer out.Close()
			return png.Encode(out, engine.Canvas().Image())
		},
	}
}

func infoCommand(log *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "print a summary of an archive's meta entry",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "archive", Usage: "archive file", Required: true},
		},
		Action: func(c *cli.Context) error {
			store, err := storage.OpenBoltStore(c.String("archive"))
			if err != nil {
				return err
			}
			defer store.Close()

			reader, err := archive.OpenReader(log, store)
			if err != nil {
				return err
			}

			meta := reader.Meta
			size := meta.LargestCanvasSize()
			fmt.Printf("records:  %d\n", meta.TotalRecords)
			fmt.Printf("duration: %dms\n", meta.LastTimestampMS)
			fmt.Printf("colors:   %d\n", len(meta.Palette))
			fmt.Printf("chunks:   %d\n", len(meta.ChunkDescriptions))
			fmt.Printf("canvas:   %dx%d\n", size.Width, size.Height)
			return nil
		},
	}
}
