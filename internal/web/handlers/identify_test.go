package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newIdentifyHandler(env *testEnv) *IdentifyHandler {
	return NewIdentifyHandler(env.db, env.cfg, env.matcher)
}

func identifyBody(t *testing.T, req identifyRequest) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal identify request: %v", err)
	}
	return bytes.NewBuffer(body)
}

func TestIdentifyHandler_Identify(t *testing.T) {
	t.Run("CreatesPerson", func(t *testing.T) {
		env := newTestEnv()
		handler := newIdentifyHandler(env)
		face := env.face(t, nil, "a.jpg", unitEmbedding(0))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/identify",
			identifyBody(t, identifyRequest{FaceID: face.ID, Name: "Jana Nováková"}))
		recorder := httptest.NewRecorder()

		handler.Identify(recorder, req)

		assertStatusCode(t, recorder, http.StatusOK)
		var resp identifyResponse
		parseJSONResponse(t, recorder, &resp)
		if !resp.NewPerson {
			t.Error("expected a new person to be created")
		}
		if resp.Person.Name != "Jana Nováková" {
			t.Errorf("unexpected person name %q", resp.Person.Name)
		}

		got, err := env.db.GetFace(context.Background(), face.ID)
		if err != nil || got == nil {
			t.Fatalf("GetFace failed: %v", err)
		}
		if got.PersonID == nil || got.PersonID.String() != resp.Person.ID {
			t.Error("face was not assigned to the new person")
		}
	})

	t.Run("NameLookupIgnoresDiacritics", func(t *testing.T) {
		env := newTestEnv()
		handler := newIdentifyHandler(env)
		existing := env.person(t, "Jana Nováková")
		face := env.face(t, nil, "a.jpg", unitEmbedding(0))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/identify",
			identifyBody(t, identifyRequest{FaceID: face.ID, Name: "jana novakova"}))
		recorder := httptest.NewRecorder()

		handler.Identify(recorder, req)

		assertStatusCode(t, recorder, http.StatusOK)
		var resp identifyResponse
		parseJSONResponse(t, recorder, &resp)
		if resp.NewPerson {
			t.Error("expected the existing person to be found")
		}
		if resp.Person.ID != existing.ID.String() {
			t.Errorf("expected person %s, got %s", existing.ID, resp.Person.ID)
		}
	})

	t.Run("AutoIdentifySpreadsToOrphansOnly", func(t *testing.T) {
		env := newTestEnv()
		handler := newIdentifyHandler(env)

		face := env.face(t, nil, "a.jpg", unitEmbedding(0))
		orphanTwin := env.face(t, nil, "b.jpg", unitEmbedding(0))
		owned := env.person(t, "Someone Else")
		ownedTwin := env.face(t, &owned.ID, "c.jpg", unitEmbedding(0))
		env.face(t, nil, "d.jpg", unitEmbedding(1))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/identify",
			identifyBody(t, identifyRequest{FaceID: face.ID, Name: "Alice", AutoIdentify: true}))
		recorder := httptest.NewRecorder()

		handler.Identify(recorder, req)

		assertStatusCode(t, recorder, http.StatusOK)
		var resp identifyResponse
		parseJSONResponse(t, recorder, &resp)
		if resp.AutoIdentified != 1 {
			t.Errorf("expected exactly the orphan twin to be auto-identified, got %d", resp.AutoIdentified)
		}

		got, err := env.db.GetFace(context.Background(), orphanTwin.ID)
		if err != nil || got == nil {
			t.Fatalf("GetFace failed: %v", err)
		}
		if got.PersonID == nil || got.PersonID.String() != resp.Person.ID {
			t.Error("orphan twin should follow the identification")
		}

		got, err = env.db.GetFace(context.Background(), ownedTwin.ID)
		if err != nil || got == nil {
			t.Fatalf("GetFace failed: %v", err)
		}
		if got.PersonID == nil || *got.PersonID != owned.ID {
			t.Error("already-assigned twin must keep its person")
		}
	})

	t.Run("MissingFace", func(t *testing.T) {
		env := newTestEnv()
		handler := newIdentifyHandler(env)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/identify",
			identifyBody(t, identifyRequest{FaceID: 42, Name: "Alice"}))
		recorder := httptest.NewRecorder()

		handler.Identify(recorder, req)

		assertStatusCode(t, recorder, http.StatusNotFound)
	})

	t.Run("MissingName", func(t *testing.T) {
		env := newTestEnv()
		handler := newIdentifyHandler(env)
		face := env.face(t, nil, "a.jpg", unitEmbedding(0))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/identify",
			identifyBody(t, identifyRequest{FaceID: face.ID}))
		recorder := httptest.NewRecorder()

		handler.Identify(recorder, req)

		assertStatusCode(t, recorder, http.StatusBadRequest)
	})
}
