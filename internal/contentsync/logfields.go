package contentsync

import (
	"go.uber.org/zap"

	"github.com/simplesurance/contentsync/internal/logfields"
)

var (
	logEventNotAFile          = logfields.Event("sync_path_not_a_file")
	logEventDigestsComputed   = logfields.Event("sync_digests_computed")
	logEventContentUnchanged  = logfields.Event("sync_content_unchanged")
	logEventBranchCreated     = logfields.Event("sync_branch_created")
	logEventFileUpdated       = logfields.Event("sync_file_updated")
	logEventPullRequestOpened = logfields.Event("sync_pull_request_created")
	logEventSyncFailed        = logfields.Event("sync_failed")
)

func logFieldStatus(s Status) zap.Field {
	return zap.String("sync_status", string(s))
}
