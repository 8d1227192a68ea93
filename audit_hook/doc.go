// Package audithook is a bridge extension that turns dispatch lifecycle
// events into audit records.
//
// Each hook builds an [AuditEvent] with a severity (info for normal
// progress, warning for retries and reclaimed claims, critical for failed
// requests and unrecorded runs) and metadata such as the year, type,
// attempt count and run id, then hands it to a [Recorder].
//
// # Writing to the log
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    logger.InfoContext(ctx, "audit", "action", evt.Action, "request_id", evt.ResourceID)
//	    return nil
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionRequestFailed,
//	        audithook.ActionReconciliationNeeded,
//	    ),
//	)
package audithook
