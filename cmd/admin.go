package cmd

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fleetinspect/internal/bootstrap"
	"fleetinspect/internal/bootstrap/config"
	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/review"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/infrastructure/auth"
	"fleetinspect/internal/usecase/backoffice"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Back office administration against the server database",
}

var adminAssignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Schedule an inspection for an inspector",
	RunE: withServer(func(cmd *cobra.Command, _ *bootstrap.ServerApp, svc *backoffice.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		inspectorID, _ := cmd.Flags().GetString("inspector")
		plate, _ := cmd.Flags().GetString("plate")
		vehicleType, _ := cmd.Flags().GetString("vehicle-type")
		bodyClass, _ := cmd.Flags().GetString("body-class")
		client, _ := cmd.Flags().GetString("client")
		template, _ := cmd.Flags().GetString("template")
		at, _ := cmd.Flags().GetString("at")

		scheduledAt := time.Now().UTC()
		if strings.TrimSpace(at) != "" {
			parsed, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return errs.Validation("at", "must be RFC3339")
			}
			scheduledAt = parsed
		}

		assigned, err := svc.ScheduleAssignment(ctx, backoffice.ScheduleInput{
			InspectorID:  inspectorID,
			Plate:        plate,
			VehicleType:  vehicleType,
			BodyClass:    bodyClass,
			ClientName:   client,
			TemplateCode: template,
			ScheduledAt:  scheduledAt,
		})
		if err != nil {
			logging.Error(ctx, "schedule assignment failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "schedule assignment")
		}
		return printf(cmd, "assignment %s plate=%s inspector=%s at=%s\n",
			assigned.ID, assigned.SystemPlate, assigned.InspectorID, scheduledAt.Format(time.RFC3339))
	}),
}

var adminReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Accept, reject or send back a completed inspection",
	RunE: withServer(func(cmd *cobra.Command, _ *bootstrap.ServerApp, svc *backoffice.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetString("id")
		action, _ := cmd.Flags().GetString("action")
		comment, _ := cmd.Flags().GetString("comment")
		actor, _ := cmd.Flags().GetString("actor")

		var edits *review.Edits
		if cmd.Flags().Changed("score") || cmd.Flags().Changed("result") {
			edits = &review.Edits{}
			if cmd.Flags().Changed("score") {
				score, _ := cmd.Flags().GetInt("score")
				edits.Score = &score
			}
			if cmd.Flags().Changed("result") {
				raw, _ := cmd.Flags().GetString("result")
				result := inspection.Result(raw)
				edits.Result = &result
			}
		}

		reviewed, err := svc.ReviewInspection(ctx, backoffice.ReviewInput{
			InspectionID: id,
			Action:       action,
			Comment:      comment,
			Edits:        edits,
			Actor:        actor,
		})
		if err != nil {
			logging.Error(ctx, "review inspection failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "review inspection")
		}
		return printf(cmd, "inspection %s estado=%s review=%s\n", reviewed.ID, reviewed.Estado, reviewed.ReviewState)
	}),
}

var adminOverrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Override one item verdict with a justification",
	RunE: withServer(func(cmd *cobra.Command, _ *bootstrap.ServerApp, svc *backoffice.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetString("id")
		item, _ := cmd.Flags().GetString("item")
		verdict, _ := cmd.Flags().GetString("verdict")
		justification, _ := cmd.Flags().GetString("justification")
		actor, _ := cmd.Flags().GetString("actor")

		result, err := svc.OverrideItem(ctx, backoffice.OverrideInput{
			InspectionID:  id,
			ItemID:        item,
			Verdict:       verdict,
			Justification: justification,
			Actor:         actor,
		})
		if err != nil {
			logging.Error(ctx, "override item failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "override item")
		}
		score := 0
		if result.Inspection.Score != nil {
			score = *result.Inspection.Score
		}
		return printf(cmd, "%s -> %s score=%d result=%s\n", result.Item.ItemID, result.Item.Effective(), score, result.Inspection.Result)
	}),
}

var adminHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the audit history of one item",
	RunE: withServer(func(cmd *cobra.Command, _ *bootstrap.ServerApp, svc *backoffice.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetString("id")
		item, _ := cmd.Flags().GetString("item")
		entries, err := svc.ItemHistory(ctx, id, item)
		if err != nil {
			return errs.Wrap(err, "item history")
		}
		if len(entries) == 0 {
			return printf(cmd, "no history\n")
		}
		for _, entry := range entries {
			prior := "-"
			if entry.PriorVerdict != nil {
				prior = string(*entry.PriorVerdict)
			}
			if err := printf(cmd, "%s %s by %s %s -> %s: %s\n",
				entry.At.Format(time.RFC3339), entry.Action, entry.Actor, prior, entry.NewVerdict, entry.Justification); err != nil {
				return err
			}
		}
		return nil
	}),
}

var adminTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token signed with server.jwt_secret",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		cfg, err := config.Load(ctx, cfgFile)
		if err != nil {
			return errs.Wrap(err, "load config")
		}
		if strings.TrimSpace(cfg.Server.JWTSecret) == "" {
			return errors.New("server.jwt_secret is not configured")
		}

		subject, _ := cmd.Flags().GetString("subject")
		rawRole, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		role, err := auth.ParseRole(rawRole)
		if err != nil {
			return err
		}

		token, err := auth.Issue(cfg.Server.JWTSecret, subject, role, ttl, time.Now())
		if err != nil {
			return errs.Wrap(err, "issue token")
		}
		logging.Info(ctx, "token issued", slog.String("subject", subject), slog.String("role", string(role)), slog.Duration("ttl", ttl))
		return printf(cmd, "%s\n", token)
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminAssignCmd, adminReviewCmd, adminOverrideCmd, adminHistoryCmd, adminTokenCmd)

	adminAssignCmd.Flags().String("inspector", "", "Inspector id")
	adminAssignCmd.Flags().String("plate", "", "Vehicle plate")
	adminAssignCmd.Flags().String("vehicle-type", "", "Vehicle type")
	adminAssignCmd.Flags().String("body-class", "", "Body class")
	adminAssignCmd.Flags().String("client", "", "Client name")
	adminAssignCmd.Flags().String("template", "general", "Checklist template code")
	adminAssignCmd.Flags().String("at", "", "Scheduled time, RFC3339 (default: now)")
	_ = adminAssignCmd.MarkFlagRequired("inspector")
	_ = adminAssignCmd.MarkFlagRequired("plate")

	adminReviewCmd.Flags().String("id", "", "Back office inspection id")
	adminReviewCmd.Flags().String("action", "", "ACEPTAR|RECHAZAR|CORRECCION")
	adminReviewCmd.Flags().String("comment", "", "Review comment (required to reject or request a correction)")
	adminReviewCmd.Flags().Int("score", 0, "Edited score, applied on accept")
	adminReviewCmd.Flags().String("result", "", "Edited result, applied on accept")
	adminReviewCmd.Flags().String("actor", "admin", "Reviewer")
	_ = adminReviewCmd.MarkFlagRequired("id")
	_ = adminReviewCmd.MarkFlagRequired("action")

	adminOverrideCmd.Flags().String("id", "", "Back office inspection id")
	adminOverrideCmd.Flags().String("item", "", "Checklist item id")
	adminOverrideCmd.Flags().String("verdict", "", "New verdict (pass|fail|na)")
	adminOverrideCmd.Flags().String("justification", "", "Why the verdict changes (at least 20 characters)")
	adminOverrideCmd.Flags().String("actor", "admin", "Auditor")
	_ = adminOverrideCmd.MarkFlagRequired("id")
	_ = adminOverrideCmd.MarkFlagRequired("item")
	_ = adminOverrideCmd.MarkFlagRequired("verdict")

	adminHistoryCmd.Flags().String("id", "", "Back office inspection id")
	adminHistoryCmd.Flags().String("item", "", "Checklist item id")
	_ = adminHistoryCmd.MarkFlagRequired("id")
	_ = adminHistoryCmd.MarkFlagRequired("item")

	adminTokenCmd.Flags().String("subject", "", "Token subject (inspector or admin id)")
	adminTokenCmd.Flags().String("role", string(auth.RoleInspector), "inspector|admin")
	adminTokenCmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	_ = adminTokenCmd.MarkFlagRequired("subject")
}
