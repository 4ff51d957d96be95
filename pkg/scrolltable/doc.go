// Package scrolltable implements an incremental-loading pagination engine
// driven by scroll visibility.
//
// An Engine owns an ordered set of records fetched page by page through a
// Requester and keeps them rendered on a Surface. A Trigger watches a
// loading sentinel and asks the engine for the next page whenever the
// sentinel is visible and within Threshold of the viewport's bottom edge.
//
// Example usage:
//
//	e, err := scrolltable.New(surface, requester, scrolltable.Config{
//		PageSize:        20,
//		LoadingTemplate: "loading...",
//		Template:        render,
//	})
//	if err != nil {
//		return err
//	}
//
//	trigger, err := scrolltable.Mount(ctx, e, surface, surface)
//	if errors.Is(err, scrolltable.ErrNoSentinel) {
//		return nil
//	}
//	defer trigger.Detach()
//
// The engine:
//   - Requests {page, pagesize}, one request at a time
//   - Computes the page count once from the first response's count
//   - Shows a no-data placeholder when the first page is empty
//   - Shows a completed placeholder after the last page
//   - Re-checks the sentinel after every page and every removal, so a tall
//     viewport cascades loads without further scrolling
//   - Drops responses that arrive after a Refresh
//
// Failed fetches roll the cursor back and are reported through
// Config.Error. The engine never retries on its own.
package scrolltable
