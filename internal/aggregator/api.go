package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gitops-dm/dm/internal/httpapi"
	"github.com/gitops-dm/dm/internal/model"
	"github.com/gitops-dm/dm/internal/resource"
	"github.com/gitops-dm/dm/internal/versionsrepo"
)

// lockReason is the fixed reason attached to locks toggled through the
// deploy endpoint, per §4.9.
const lockReason = "locked from ui"

const commitAuthorName = "DM Aggregator"
const commitAuthorEmail = "n/a"

var upgrader = websocket.Upgrader{
	// The UI is served from the same origin the API listens on; there is
	// no cross-origin client to reject.
	CheckOrigin: func(*http.Request) bool { return true },
}

// RegisterRoutes wires /api (websocket), /api/deploy, and static UI
// serving from uiPath onto r.
func RegisterRoutes(r *mux.Router, hub *Hub, repo *versionsrepo.Repo, uiPath string) {
	r.HandleFunc("/api", hub.handleWebsocket).Methods(http.MethodGet)
	r.HandleFunc("/api/deploy", handleDeploy(repo)).Methods(http.MethodPost)
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(uiPath)))
}

// handleWebsocket upgrades the connection, sends the current FullStatus as
// the first frame, then pumps broadcast messages to the client until it
// disconnects. Messages received from the client are read and discarded;
// per §6 the channel is currently one-directional in practice.
func (h *Hub) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	id, ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	if err := conn.WriteJSON(model.NewFullStatusMessage(h.Status())); err != nil {
		h.log.WithField("subscriber", id).WithError(err).Debug("sending initial status failed")
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.log.WithField("subscriber", id).WithError(err).Debug("websocket write failed")
				return
			}
		}
	}
}

// deployRequest is the body of POST /api/deploy.
type deployRequest struct {
	Message   string         `json:"message"`
	Resources []deployedItem `json:"resources"`
}

type deployedItem struct {
	Resource  string  `json:"resource"`
	Env       string  `json:"env"`
	VersionID *string `json:"version_id,omitempty"`
	Locked    *bool   `json:"locked,omitempty"`
}

type deployResponse struct {
	CommitID model.ObjectID `json:"commit_id"`
}

// handleDeploy implements §4.9: apply every item's version-pointer and/or
// lock change against HEAD as a single new commit, then push. Items that
// touch the same env/file are applied in request order; the last one
// wins, matching ordinary Git semantics for repeated writes to one path.
func handleDeploy(repo *versionsrepo.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deployRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "malformed body: "+err.Error())
			return
		}
		for _, item := range req.Resources {
			if item.VersionID == nil && item.Locked == nil {
				httpapi.WriteError(w, http.StatusBadRequest, fmt.Sprintf("resource %q names neither version_id nor locked", item.Resource))
				return
			}
		}

		commitID, err := applyDeploy(r.Context(), repo, req)
		if err != nil {
			logrus.WithField("component", "aggregator").WithError(err).Warn("deploy failed")
			httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}

		httpapi.WriteJSON(w, http.StatusOK, deployResponse{CommitID: commitID})
	}
}

func applyDeploy(ctx context.Context, repo *versionsrepo.Repo, req deployRequest) (model.ObjectID, error) {
	parent, err := repo.Version()
	if err != nil {
		return model.ZeroID, fmt.Errorf("resolving head: %w", err)
	}

	root, err := repo.Zipper()
	if err != nil {
		return model.ZeroID, fmt.Errorf("opening tree: %w", err)
	}

	for _, item := range req.Resources {
		if err := applyDeployedItem(repo, root, item); err != nil {
			return model.ZeroID, fmt.Errorf("applying %s/%s: %w", item.Env, item.Resource, err)
		}
	}

	newTree := root.IntoInner()

	// Empty-diff commits are still produced here: unlike the transitioner,
	// the deploy endpoint has no no-change short-circuit. A deploy that
	// assigns the already-live version is still a deploy the operator
	// asked for and expects to see recorded.
	commitID, err := repo.Commit(commitAuthorName, commitAuthorEmail, req.Message, newTree, parent)
	if err != nil {
		return model.ZeroID, fmt.Errorf("committing: %w", err)
	}

	if err := repo.Push(ctx); err != nil {
		return model.ZeroID, fmt.Errorf("pushing: %w", err)
	}

	return commitID, nil
}

func applyDeployedItem(repo *versionsrepo.Repo, root *versionsrepo.TreeZipper, item deployedItem) error {
	root.Descend(item.Env)
	defer root.Ascend() //nolint:errcheck // env frame always pushed above

	if item.VersionID != nil {
		id, ok := model.ParseIDStrict(*item.VersionID)
		if !ok {
			return fmt.Errorf("malformed version_id %q", *item.VersionID)
		}
		root.Descend("version")
		err := root.Rebuild(func(b *versionsrepo.TreeBuilder) {
			b.SetBlob(item.Resource+".yaml", id.Hash(), filemode.Regular)
		})
		if ascendErr := root.Ascend(); err == nil {
			err = ascendErr
		}
		if err != nil {
			return err
		}
	}

	if item.Locked != nil {
		data, _, err := root.GetBlob("locks.yaml")
		if err != nil {
			return err
		}
		locks, err := resource.ParseLocks(data)
		if err != nil {
			return fmt.Errorf("parsing locks.yaml: %w", err)
		}

		lock := locks.ResourceLocks[item.Resource]
		if *item.Locked {
			lock.Add(lockReason)
		} else {
			lock.Remove(lockReason)
		}
		locks.ResourceLocks[item.Resource] = lock

		encoded, err := locks.Marshal()
		if err != nil {
			return fmt.Errorf("marshaling locks.yaml: %w", err)
		}
		var writeErr error
		if err := root.Rebuild(func(b *versionsrepo.TreeBuilder) {
			hash, werr := versionsrepo.WriteBlob(repo.Storer(), encoded)
			if werr != nil {
				writeErr = werr
				return
			}
			b.SetBlob("locks.yaml", hash, filemode.Regular)
		}); err != nil {
			return err
		}
		if writeErr != nil {
			return fmt.Errorf("writing locks.yaml blob: %w", writeErr)
		}
	}

	return nil
}
