package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/logic/patterns"
	"github.com/imghost/abuseguard/internal/logic/screening"
	"github.com/imghost/abuseguard/internal/models"
)

// DefaultUploadEndpoint is the logical route uploads are counted against.
const DefaultUploadEndpoint = "/upload"

// PatternFlagConfidence is the confidence of the flag raised when several
// upload-pattern heuristics fire together.
const PatternFlagConfidence = 0.5

// minPatternReasons is how many heuristics must fire before a flag is raised.
const minPatternReasons = 2

// ErrUserRequired is returned when an upload has no authenticated user.
var ErrUserRequired = errors.New("admission: uploads require a user")

// Upload is a file presented for screening before it is stored.
type Upload struct {
	UserID       string
	Tier         models.Tier
	Endpoint     string
	Filename     string
	DeclaredMime string
	SizeBytes    int64

	// Header holds at least the first screening.HeaderSize bytes of the file.
	Header []byte
	Client models.ClientContext
}

// UploadDecision is the result of screening an upload.
type UploadDecision struct {
	Decision
	UploadID string               `json:"upload_id,omitempty"`
	Scan     *screening.Result    `json:"scan,omitempty"`
	Patterns *patterns.Result     `json:"patterns,omitempty"`
	Flags    []models.ContentFlag `json:"flags,omitempty"`
}

// scan runs the scanner, treating a panic as "not flagged".
func (g *Guard) scan(ctx context.Context, u Upload) (res screening.Result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.Logger.Error("upload scanner panicked, continuing unflagged",
				zap.Any("panic", r),
				zap.String("user_id", u.UserID),
				zap.String("filename", u.Filename))
			trace.SpanFromContext(ctx).AddEvent("scanner_panic")
			res, ok = screening.Result{}, false
		}
	}()
	return g.Scanner.Scan(u.Filename, u.DeclaredMime, u.Header), true
}

func (g *Guard) flag(ctx context.Context, targetID string, flagType models.FlagType, confidence float64, flaggedBy string, meta map[string]string) (models.ContentFlag, bool) {
	f := models.ContentFlag{
		ID:         uuid.NewString(),
		TargetID:   targetID,
		FlagType:   flagType,
		Confidence: confidence,
		FlaggedBy:  flaggedBy,
		Metadata:   meta,
		CreatedAt:  g.now().UTC(),
	}
	if g.Flags == nil {
		return f, true
	}
	if err := g.Flags.InsertContentFlag(ctx, &f); err != nil {
		g.Metrics.IncrementStoreErrors("flags")
		g.Logger.Warn("persist content flag", zap.Error(err), zap.String("target_id", targetID))
		return f, false
	}
	return f, true
}

func clientMeta(u Upload, extra map[string]string) map[string]string {
	meta := map[string]string{
		"filename":      u.Filename,
		"declared_mime": u.DeclaredMime,
	}
	if u.Client.Country != "" {
		meta["country"] = u.Client.Country
	}
	if u.Client.DeviceType != "" {
		meta["device_type"] = u.Client.DeviceType
	}
	if u.Client.IsBot {
		meta["is_bot"] = "true"
	}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}

// ScreenUpload runs the upload pipeline: suspension, upload quota,
// upload-abuse lockout, malware heuristics and upload-pattern analysis. A
// rejected file is never recorded in the user's history.
func (g *Guard) ScreenUpload(ctx context.Context, u Upload) (UploadDecision, error) {
	if u.UserID == "" {
		return UploadDecision{}, ErrUserRequired
	}
	if u.Endpoint == "" {
		u.Endpoint = DefaultUploadEndpoint
	}
	ctx, span := tracer.Start(ctx, "admission.ScreenUpload",
		trace.WithAttributes(
			attribute.String("user_id", u.UserID),
			attribute.String("tier", string(u.Tier)),
			attribute.Int64("size_bytes", u.SizeBytes),
		))
	defer span.End()

	out := UploadDecision{Decision: g.newDecision()}
	d := &out.Decision
	defer func() {
		span.SetAttributes(attribute.String("admission.outcome", string(d.Outcome)))
	}()

	if g.checkSuspension(ctx, d, u.UserID, u.Endpoint, u.Client) {
		return out, nil
	}
	if g.Users != nil {
		cfg := g.cfg.TierQuotas.For(u.Tier, u.Endpoint)
		if g.consume(ctx, d, g.Users, u.UserID, u.Endpoint, u.UserID, cfg, u.Client) {
			return out, nil
		}
	}
	if g.checkLock(ctx, d, models.AttemptUploadAbuse, u.Endpoint, u.UserID, u.Client, u.UserID) {
		g.emit(ctx, g.event(models.EventLockedOut, "user:"+u.UserID, u.Endpoint, u.UserID, u.Client,
			map[string]string{"attempt_type": models.AttemptUploadAbuse}))
		return out, nil
	}

	res, scanned := g.scan(ctx, u)
	if scanned {
		out.Scan = &res
	}
	block, review := res.Blocking(g.cfg.BlockConfidence)
	for _, f := range res.Flags {
		outcome := "review"
		if f.Confidence >= g.cfg.BlockConfidence {
			outcome = "block"
		}
		g.Metrics.IncrementScreeningFlags(string(f.Type), outcome)
	}

	if len(block) > 0 {
		d.deny(OutcomeRejected)
		reasons := make([]string, len(block))
		for i, f := range block {
			reasons[i] = f.Reason
			if fl, ok := g.flag(ctx, u.UserID, f.Type, f.Confidence, "scanner",
				clientMeta(u, map[string]string{"reason": f.Reason, "outcome": "blocked", "detected_kind": string(res.Kind)})); ok {
				out.Flags = append(out.Flags, fl)
			}
		}
		d.Trace.AddStepWithDetails("scan", "blocked", map[string]string{"reasons": strings.Join(reasons, "; ")})
		g.emit(ctx, g.event(models.EventUploadBlocked, "user:"+u.UserID, u.Endpoint, u.UserID, u.Client,
			map[string]string{"filename": u.Filename, "reasons": strings.Join(reasons, "; ")}))

		if g.Lockout != nil {
			if st, err := g.Lockout.RecordFailure(ctx, u.UserID, models.AttemptUploadAbuse); err != nil {
				g.Logger.Warn("record upload abuse failure", zap.Error(err), zap.String("user_id", u.UserID))
			} else {
				d.Lockout = &st
			}
		}
		return out, nil
	}

	out.UploadID = uuid.NewString()
	for _, f := range review {
		if fl, ok := g.flag(ctx, out.UploadID, f.Type, f.Confidence, "scanner",
			clientMeta(u, map[string]string{"reason": f.Reason, "detected_kind": string(res.Kind)})); ok {
			out.Flags = append(out.Flags, fl)
		}
	}
	if len(review) > 0 {
		d.Trace.AddStep("scan", "flagged")
		g.emit(ctx, g.event(models.EventUploadFlagged, "user:"+u.UserID, u.Endpoint, u.UserID, u.Client,
			map[string]string{"upload_id": out.UploadID, "flags": itoa(int64(len(review)))}))
	} else {
		d.Trace.AddStep("scan", "clean")
	}

	if g.Uploads != nil {
		rec := &models.UploadRecord{
			ID:        out.UploadID,
			UserID:    u.UserID,
			Filename:  u.Filename,
			SizeBytes: u.SizeBytes,
			MimeType:  screening.NormalizeMime(u.DeclaredMime),
			CreatedAt: g.now().UTC(),
		}
		if err := g.Uploads.InsertUpload(ctx, rec); err != nil {
			g.Metrics.IncrementStoreErrors("uploads")
			g.Logger.Warn("record upload history", zap.Error(err), zap.String("user_id", u.UserID))
		}
	}

	g.analyzePatterns(ctx, &out, u)
	return out, nil
}

// analyzePatterns runs the advisory upload-pattern heuristics. Errors are
// logged and ignored.
func (g *Guard) analyzePatterns(ctx context.Context, out *UploadDecision, u Upload) {
	if g.Patterns == nil {
		return
	}
	res, err := g.Patterns.Detect(ctx, u.UserID)
	if err != nil {
		g.Logger.Warn("upload pattern analysis failed, continuing", zap.Error(err), zap.String("user_id", u.UserID))
		out.Trace.AddStep("patterns", "error")
		return
	}
	out.Patterns = &res
	if !res.Suspicious {
		out.Trace.AddStep("patterns", "normal")
		return
	}

	for _, r := range res.Reasons {
		g.Metrics.IncrementPatternAlerts(r)
	}
	joined := strings.Join(res.Reasons, "; ")
	out.Trace.AddStepWithDetails("patterns", "suspicious", map[string]string{"reasons": joined})
	g.emit(ctx, g.event(models.EventPatternAlert, "user:"+u.UserID, u.Endpoint, u.UserID, u.Client,
		map[string]string{"reasons": joined}))

	if len(res.Reasons) < minPatternReasons {
		return
	}
	if fl, ok := g.flag(ctx, u.UserID, models.FlagSuspicious, PatternFlagConfidence, "pattern_analyzer",
		clientMeta(u, map[string]string{"reasons": joined, "reason_count": fmt.Sprint(len(res.Reasons))})); ok {
		out.Flags = append(out.Flags, fl)
	}
}
