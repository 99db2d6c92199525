package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/lisuiheng/hatcam-go/inspection"
	"github.com/lisuiheng/hatcam-go/logger"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var statsFlags struct {
	warnings int
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show detection statistics from the inspection API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		client, err := inspection.New(inspection.Config{
			BaseURL:  cfg.Inspection.BaseURL,
			Timeout:  cfg.Inspection.Timeout,
			CacheTTL: cfg.Inspection.CacheTTL,
		}, logger.Logger())
		if err != nil {
			return err
		}
		defer client.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		stats, err := client.DetectionStats(ctx)
		if err != nil {
			return fmt.Errorf("detection stats: %w", err)
		}
		renderDetectionStats(stats)

		cams, err := client.CameraStats(ctx)
		if err != nil {
			return fmt.Errorf("camera stats: %w", err)
		}
		renderCameraStats(cams)

		if statsFlags.warnings > 0 {
			ws, err := client.Warnings(ctx, inspection.Page{Page: 1, PageSize: statsFlags.warnings})
			if err != nil {
				return fmt.Errorf("warnings: %w", err)
			}
			renderWarnings(ws)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsFlags.warnings, "warnings", 0, "Also list the latest N warnings")
}

func renderDetectionStats(d inspection.DetectionStatsData) {
	s := d.Stats
	pterm.DefaultSection.Println("Detections")
	_ = pterm.DefaultTable.WithHasHeader(false).WithData(pterm.TableData{
		{"Total", strconv.Itoa(s.TotalDetections)},
		{"Persons", strconv.Itoa(s.PersonCount)},
		{"Wearing hat", strconv.Itoa(s.WearingHatCount)},
		{"No hat", strconv.Itoa(s.NoHatCount)},
		{"Avg confidence", fmt.Sprintf("%.2f", s.AvgConfidence)},
		{"Compliance", percent(s.ComplianceRate)},
	}).Render()

	if len(d.DailyStats) == 0 {
		return
	}
	data := pterm.TableData{{"Date", "Total", "Wearing hat", "No hat"}}
	for _, day := range d.DailyStats {
		data = append(data, []string{day.Date, strconv.Itoa(day.Total), strconv.Itoa(day.WearingHat), strconv.Itoa(day.NoHat)})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithHeaderRowSeparator("-").WithData(data).Render()
}

func renderCameraStats(d inspection.CameraStatsData) {
	pterm.DefaultSection.Println("Cameras")
	data := pterm.TableData{{"Camera", "Name", "Online", "Detections", "Violations", "Rate", "Today"}}
	for _, c := range d.CameraStats {
		online := pterm.Red("offline")
		if c.IsOnline {
			online = pterm.Green("online")
		}
		data = append(data, []string{
			c.CameraID,
			c.CameraName,
			online,
			strconv.Itoa(c.TotalDetections),
			strconv.Itoa(c.ViolationCount),
			percent(c.ViolationRate),
			fmt.Sprintf("%d/%d", c.TodayViolations, c.TodayDetections),
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithHeaderRowSeparator("-").WithData(data).Render()
	pterm.Info.Printfln("%d/%d cameras online, overall violation rate %s",
		d.Summary.OnlineCameras, d.Summary.TotalCameras, percent(d.Summary.OverallViolationRate))
}

func renderWarnings(d inspection.WarningsData) {
	pterm.DefaultSection.Printfln("Warnings (%d total)", d.Total)
	data := pterm.TableData{{"ID", "Level", "Status", "Camera", "Title", "Created"}}
	for _, w := range d.Warnings {
		data = append(data, []string{w.ID, w.WarningLevel, w.Status, w.CameraID, w.Title, w.CreatedAt})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithHeaderRowSeparator("-").WithData(data).Render()
}

// percent renders a 0..1 rate.
func percent(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}
