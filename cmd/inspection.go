package cmd

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"fleetinspect/internal/bootstrap"
	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
	"fleetinspect/internal/usecase/inspector"
)

var inspectionCmd = &cobra.Command{
	Use:   "inspection",
	Short: "Work on inspections in the local store",
}

var inspectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local inspections with their live score",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *inspector.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		rawStates, _ := cmd.Flags().GetStringSlice("state")
		states := make([]inspection.SyncState, 0, len(rawStates))
		for _, raw := range rawStates {
			state, err := inspection.ParseSyncState(raw)
			if err != nil {
				return err
			}
			states = append(states, state)
		}

		items, err := svc.List(ctx, states)
		if err != nil {
			logging.Error(ctx, "list inspections failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list inspections")
		}
		if len(items) == 0 {
			return printf(cmd, "no inspections\n")
		}

		for _, item := range items {
			current := item.Inspection
			if err := printf(cmd,
				"%d [%s] plate=%s client=%s template=%s score=%d result=%s\n",
				current.ID,
				current.SyncState,
				current.SystemPlate,
				dash(current.ClientName),
				current.TemplateCode,
				item.Outcome.Score,
				item.Outcome.Result,
			); err != nil {
				return err
			}
		}
		return nil
	}),
}

var inspectionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show an inspection with its checklist, photos and history",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *inspector.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetUint64("id")
		detail, err := svc.Detail(ctx, id)
		if err != nil {
			logging.Error(ctx, "show inspection failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "show inspection")
		}

		current := detail.Inspection
		lines := []struct {
			label string
			value any
		}{
			{"ID", current.ID},
			{"ClientRef", current.ClientRef},
			{"RemoteID", derefString(current.RemoteID)},
			{"State", current.SyncState},
			{"Revision", current.Revision},
			{"Plate", current.SystemPlate},
			{"ObservedPlate", dash(current.ObservedPlate)},
			{"Discrepancy", current.Discrepancy},
			{"Client", dash(current.ClientName)},
			{"Template", detail.Template.Code},
			{"Score", detail.Outcome.Score},
			{"Result", detail.Outcome.Result},
			{"ReviewState", dash(current.ReviewState)},
			{"ReviewComment", dash(current.ReviewComment)},
		}
		for _, line := range lines {
			if err := printf(cmd, "%s: %v\n", line.label, line.value); err != nil {
				return err
			}
		}

		verdicts := make(map[string]inspection.ItemVerdict, len(detail.Verdicts))
		for _, verdict := range detail.Verdicts {
			verdicts[verdict.ItemID] = verdict
		}
		if err := printf(cmd, "\nChecklist:\n"); err != nil {
			return err
		}
		for _, item := range detail.Template.Items {
			answer := "-"
			if verdict, ok := verdicts[item.ID]; ok {
				answer = string(verdict.Effective())
				if verdict.Overridden {
					answer += " (override)"
				}
			}
			if err := printf(cmd, "- %s [%s] %s: %s\n", item.ID, item.Tier, item.Label, answer); err != nil {
				return err
			}
			for _, entry := range detail.History[item.ID] {
				if err := printf(cmd, "    %s %s by %s -> %s %s\n",
					entry.At.Format("2006-01-02 15:04"), entry.Action, entry.Actor, entry.NewVerdict, entry.Justification); err != nil {
					return err
				}
			}
		}

		if err := printf(cmd, "\nPhotos: %d\n", len(detail.Photos)); err != nil {
			return err
		}
		for _, photo := range detail.Photos {
			if err := printf(cmd, "- %s slot=%s gps=%t remote=%s\n",
				photo.ClientRef, photo.Slot, photo.GPSAvailable, derefString(photo.RemoteRef)); err != nil {
				return err
			}
		}
		return nil
	}),
}

var inspectionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a scheduled inspection or reopen one in correction",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *inspector.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetUint64("id")
		started, err := svc.StartInspection(ctx, id)
		if err != nil {
			logging.Error(ctx, "start inspection failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "start inspection")
		}
		return printf(cmd, "started inspection %d plate=%s revision=%d\n", started.ID, started.SystemPlate, started.Revision)
	}),
}

var inspectionAdhocCmd = &cobra.Command{
	Use:   "adhoc",
	Short: "Start an unscheduled inspection",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *inspector.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		plate, _ := cmd.Flags().GetString("plate")
		vehicleType, _ := cmd.Flags().GetString("vehicle-type")
		bodyClass, _ := cmd.Flags().GetString("body-class")
		client, _ := cmd.Flags().GetString("client")
		template, _ := cmd.Flags().GetString("template")

		started, err := svc.StartAdhocInspection(ctx, inspector.AdhocInput{
			Plate:        plate,
			VehicleType:  vehicleType,
			BodyClass:    bodyClass,
			ClientName:   client,
			TemplateCode: template,
		})
		if err != nil {
			logging.Error(ctx, "start adhoc inspection failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "start adhoc inspection")
		}
		return printf(cmd, "started inspection %d plate=%s client_ref=%s\n", started.ID, started.SystemPlate, started.ClientRef)
	}),
}

var inspectionVerdictCmd = &cobra.Command{
	Use:   "verdict",
	Short: "Record the verdict of one checklist item",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *inspector.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetUint64("id")
		item, _ := cmd.Flags().GetString("item")
		value, _ := cmd.Flags().GetString("value")
		observation, _ := cmd.Flags().GetString("observation")
		naReason, _ := cmd.Flags().GetString("na-reason")

		saved, err := svc.RecordVerdict(ctx, inspector.RecordVerdictInput{
			InspectionID: id,
			ItemID:       item,
			Verdict:      value,
			Observation:  observation,
			NAReason:     naReason,
		})
		if err != nil {
			logging.Error(ctx, "record verdict failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "record verdict")
		}
		outcome, err := svc.LiveScore(ctx, id)
		if err != nil {
			return errs.Wrap(err, "compute live score")
		}
		return printf(cmd, "%s=%s score=%d result=%s\n", saved.ItemID, saved.Verdict, outcome.Score, outcome.Result)
	}),
}

var inspectionPhotoCmd = &cobra.Command{
	Use:   "photo",
	Short: "Capture a photo from an image file and attach it",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *inspector.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetUint64("id")
		slot, _ := cmd.Flags().GetString("slot")
		front, _ := cmd.Flags().GetBool("front")
		var itemID *string
		if raw, _ := cmd.Flags().GetString("item"); strings.TrimSpace(raw) != "" {
			itemID = &raw
		}
		facing := ports.FacingRear
		if front {
			facing = ports.FacingFront
		}

		photo, err := svc.CapturePhoto(ctx, inspector.CapturePhotoInput{
			InspectionID: id,
			ItemID:       itemID,
			Slot:         slot,
			Facing:       facing,
		})
		if err != nil {
			logging.Error(ctx, "capture photo failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "capture photo")
		}
		if photo == nil {
			return printf(cmd, "capture cancelled, nothing stored\n")
		}
		return printf(cmd, "photo %s slot=%s gps=%t lat=%.6f lon=%.6f\n",
			photo.ClientRef, photo.Slot, photo.GPSAvailable, photo.Latitude, photo.Longitude)
	}, deviceFromFlags),
}

var inspectionPlateCmd = &cobra.Command{
	Use:   "plate",
	Short: "Record the plate observed on site",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *inspector.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetUint64("id")
		observed, _ := cmd.Flags().GetString("observed")
		updated, err := svc.RecordObservedPlate(ctx, id, observed)
		if err != nil {
			logging.Error(ctx, "record observed plate failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "record observed plate")
		}
		return printf(cmd, "system=%s observed=%s discrepancy=%t\n", updated.SystemPlate, updated.ObservedPlate, updated.Discrepancy)
	}),
}

var inspectionScoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Show the live score of an inspection",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *inspector.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetUint64("id")
		outcome, err := svc.LiveScore(ctx, id)
		if err != nil {
			return errs.Wrap(err, "compute live score")
		}
		if err := printf(cmd, "score=%d result=%s answered=%d failed=%d critical_fail=%t\n",
			outcome.Score, outcome.Result, outcome.Answered, outcome.Failed, outcome.CriticalFail); err != nil {
			return err
		}
		for _, tier := range inspection.Tiers() {
			if deduction := outcome.Deductions[tier]; deduction > 0 {
				if err := printf(cmd, "  -%d %s\n", deduction, tier); err != nil {
					return err
				}
			}
		}
		return nil
	}),
}

var inspectionFinalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Sign, score and queue an inspection for sync",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *inspector.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetUint64("id")
		observations, _ := cmd.Flags().GetString("observations")
		signature, err := resolveSignature(cmd)
		if err != nil {
			return err
		}

		finalized, err := svc.Finalize(ctx, inspector.FinalizeInput{
			InspectionID: id,
			Signature:    signature,
			Observations: observations,
		})
		if err != nil {
			logging.Error(ctx, "finalize inspection failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "finalize inspection")
		}
		score := 0
		if finalized.Score != nil {
			score = *finalized.Score
		}
		return printf(cmd, "inspection %d %s score=%d result=%s submission=%s\n",
			finalized.ID, finalized.SyncState, score, finalized.Result, finalized.SubmissionRef())
	}),
}

var inspectionCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a scheduled or in-progress inspection",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *inspector.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetUint64("id")
		reason, _ := cmd.Flags().GetString("reason")
		cancelled, err := svc.Cancel(ctx, id, reason)
		if err != nil {
			logging.Error(ctx, "cancel inspection failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "cancel inspection")
		}
		return printf(cmd, "inspection %d %s\n", cancelled.ID, cancelled.SyncState)
	}),
}

func init() {
	rootCmd.AddCommand(inspectionCmd)
	inspectionCmd.AddCommand(
		inspectionListCmd,
		inspectionShowCmd,
		inspectionStartCmd,
		inspectionAdhocCmd,
		inspectionVerdictCmd,
		inspectionPhotoCmd,
		inspectionPlateCmd,
		inspectionScoreCmd,
		inspectionFinalizeCmd,
		inspectionCancelCmd,
	)

	inspectionListCmd.Flags().StringSlice("state", nil, "Filter by sync state (scheduled|in_progress|pending_sync|synced|cancelled|in_correction)")

	for _, c := range []*cobra.Command{
		inspectionShowCmd,
		inspectionStartCmd,
		inspectionVerdictCmd,
		inspectionPhotoCmd,
		inspectionPlateCmd,
		inspectionScoreCmd,
		inspectionFinalizeCmd,
		inspectionCancelCmd,
	} {
		c.Flags().Uint64("id", 0, "Local inspection id")
		_ = c.MarkFlagRequired("id")
	}

	inspectionAdhocCmd.Flags().String("plate", "", "Vehicle plate")
	inspectionAdhocCmd.Flags().String("vehicle-type", "", "Vehicle type")
	inspectionAdhocCmd.Flags().String("body-class", "", "Body class")
	inspectionAdhocCmd.Flags().String("client", "", "Client name")
	inspectionAdhocCmd.Flags().String("template", "general", "Checklist template code")
	_ = inspectionAdhocCmd.MarkFlagRequired("plate")

	inspectionVerdictCmd.Flags().String("item", "", "Checklist item id")
	inspectionVerdictCmd.Flags().String("value", "", "Verdict (pass|fail|na)")
	inspectionVerdictCmd.Flags().String("observation", "", "Free text observation")
	inspectionVerdictCmd.Flags().String("na-reason", "", "Why the item does not apply")
	_ = inspectionVerdictCmd.MarkFlagRequired("item")
	_ = inspectionVerdictCmd.MarkFlagRequired("value")

	inspectionPhotoCmd.Flags().String("image", "", "Image file used as the camera frame (empty cancels)")
	inspectionPhotoCmd.Flags().String("item", "", "Checklist item the photo documents")
	inspectionPhotoCmd.Flags().String("slot", "", "Photo slot (default: general or the item slot)")
	inspectionPhotoCmd.Flags().Bool("front", false, "Use the front camera")
	inspectionPhotoCmd.Flags().Float64("lat", 0, "Latitude reported by the locator")
	inspectionPhotoCmd.Flags().Float64("lon", 0, "Longitude reported by the locator")

	inspectionPlateCmd.Flags().String("observed", "", "Plate read on site")
	_ = inspectionPlateCmd.MarkFlagRequired("observed")

	inspectionFinalizeCmd.Flags().String("signature", "", "Signature content")
	inspectionFinalizeCmd.Flags().String("signature-file", "", "Path to a signature image")
	inspectionFinalizeCmd.Flags().String("observations", "", "General observations")

	inspectionCancelCmd.Flags().String("reason", "", "Cancellation reason")
}

// deviceFromFlags feeds --image and --lat/--lon to the capture provider. The
// locator reports no fix unless both coordinates are given.
func deviceFromFlags(cmd *cobra.Command) (fx.Option, error) {
	imagePath, _ := cmd.Flags().GetString("image")
	settings := &bootstrap.DeviceSettings{ImagePath: strings.TrimSpace(imagePath)}

	latSet := cmd.Flags().Changed("lat")
	lonSet := cmd.Flags().Changed("lon")
	if latSet != lonSet {
		return nil, errors.New("--lat and --lon must be given together")
	}
	if latSet {
		lat, _ := cmd.Flags().GetFloat64("lat")
		lon, _ := cmd.Flags().GetFloat64("lon")
		settings.Coordinates = &ports.Coordinates{Latitude: lat, Longitude: lon}
	}
	return fx.Supply(settings), nil
}

func resolveSignature(cmd *cobra.Command) ([]byte, error) {
	inline, _ := cmd.Flags().GetString("signature")
	file, _ := cmd.Flags().GetString("signature-file")

	if strings.TrimSpace(inline) != "" && strings.TrimSpace(file) != "" {
		return nil, errors.New("signature and signature-file are mutually exclusive")
	}
	if strings.TrimSpace(file) != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, errs.Wrapf(err, "read signature file %q", file)
		}
		return raw, nil
	}
	return []byte(strings.TrimSpace(inline)), nil
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func derefString(value *string) string {
	if value == nil {
		return "-"
	}
	return dash(*value)
}
