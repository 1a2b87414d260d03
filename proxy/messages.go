package proxy

import (
	"encoding/json"

	"github.com/Klump3n/platt-backend-sub000/index"
)

// Sub-connection roles, sent as the handshake task.
const (
	RoleIndex    = "index"
	RolePush     = "new_file_message"
	RoleDownload = "file_download"
)

type handshake struct {
	Task string `json:"task"`
}

type indexRequest struct {
	Todo string `json:"todo"`
}

type indexReply struct {
	Index json.RawMessage `json:"index"`
}

type fileRef struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
}

type fileRequest struct {
	RequestedFile fileRef `json:"requested_file"`
}

type fileTags struct {
	Sha1sum string `json:"sha1sum"`
}

type fileBody struct {
	Namespace string   `json:"namespace"`
	Object    string   `json:"object"`
	Contents  string   `json:"contents"`
	Tags      fileTags `json:"tags"`
}

type fileReply struct {
	FileRequest *fileBody `json:"file_request"`
}

type pushFrame struct {
	NewFile *index.NewFile `json:"new_file"`
}
