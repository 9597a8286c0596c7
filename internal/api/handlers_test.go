package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shehryarbajwa/inapp-messaging/internal/api"
	"github.com/shehryarbajwa/inapp-messaging/internal/catalog"
	"github.com/shehryarbajwa/inapp-messaging/internal/counter"
	"github.com/shehryarbajwa/inapp-messaging/internal/events"
	"github.com/shehryarbajwa/inapp-messaging/internal/ratelimit"
	"github.com/shehryarbajwa/inapp-messaging/internal/remoteconfig"
	"github.com/shehryarbajwa/inapp-messaging/internal/session"
	"github.com/shehryarbajwa/inapp-messaging/internal/stream"
	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

var _ = Describe("HTTP API", func() {
	var (
		server   *httptest.Server
		mgr      *session.Manager
		messages *catalog.Catalog
		limiter  *ratelimit.Limiter
		cfg      models.Config
	)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	BeforeEach(func() {
		cfg = models.DefaultConfig()
		limiter = ratelimit.NewLimiter(3600, 100)
	})

	JustBeforeEach(func() {
		messages = catalog.New()
		mgr = session.NewManager(session.Options{
			Counters: counter.NewMemoryStore(),
			Config:   remoteconfig.NewProvider("", time.Second, cfg, quiet),
			Catalog:  messages,
			Bus:      events.NewBus(quiet),
			Timeout:  time.Hour,
			Location: time.UTC,
			Logger:   quiet,
		})

		h := api.NewHandler(mgr)
		router := h.SetupRoutes(api.NewMessageHandler(messages), stream.NewServer(mgr, quiet), limiter)
		server = httptest.NewServer(router)
	})

	AfterEach(func() {
		server.Close()
		mgr.Close()
	})

	do := func(method, path, subject string, body any) *http.Response {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, server.URL+path, reader)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		if subject != "" {
			req.Header.Set("X-Subject-ID", subject)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	decode := func(resp *http.Response, v any) {
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	createSession := func(subject string) models.Session {
		resp := do(http.MethodPost, "/v1/sessions", subject, models.CreateSessionRequest{Subject: subject})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var s models.Session
		decode(resp, &s)
		return s
	}

	evaluate := func(id string, msg models.Message) models.Decision {
		resp := do(http.MethodPost, "/v1/sessions/"+id+"/evaluate", "u1", models.EvaluateRequest{Message: msg})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var d models.Decision
		decode(resp, &d)
		return d
	}

	display := func(id string, msg models.Message) models.Session {
		resp := do(http.MethodPost, "/v1/sessions/"+id+"/display", "u1", models.DisplayRequest{Message: msg})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var s models.Session
		decode(resp, &s)
		return s
	}

	It("reports health", func() {
		resp := do(http.MethodGet, "/healthz", "", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
	})

	It("serves the policy configuration", func() {
		resp := do(http.MethodGet, "/v1/config", "", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var got models.Config
		decode(resp, &got)
		Expect(got).To(Equal(cfg))
	})

	Describe("sessions", func() {
		It("creates a session for the subject", func() {
			s := createSession("u1")
			Expect(s.ID).NotTo(BeEmpty())
			Expect(s.Subject).To(Equal("u1"))
			Expect(s.MessagesDisplayedToday).To(BeZero())
			Expect(s.DataCollection).To(BeTrue())
		})

		It("takes the subject from the header when the body omits it", func() {
			resp := do(http.MethodPost, "/v1/sessions", "u9", map[string]any{})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var s models.Session
			decode(resp, &s)
			Expect(s.Subject).To(Equal("u9"))
		})

		It("rejects a session without a subject", func() {
			resp := do(http.MethodPost, "/v1/sessions", "", map[string]any{})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a malformed body", func() {
			req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/sessions", strings.NewReader("{"))
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for unknown sessions", func() {
			Expect(do(http.MethodGet, "/v1/sessions/missing", "u1", nil).StatusCode).To(Equal(http.StatusNotFound))
			Expect(do(http.MethodPost, "/v1/sessions/missing/evaluate", "u1", models.EvaluateRequest{}).StatusCode).To(Equal(http.StatusNotFound))
			Expect(do(http.MethodDelete, "/v1/sessions/missing", "u1", nil).StatusCode).To(Equal(http.StatusNotFound))
		})

		It("lists and deletes sessions", func() {
			a := createSession("u1")
			createSession("u2")

			resp := do(http.MethodGet, "/v1/sessions?subjectId=u1", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var list []models.Session
			decode(resp, &list)
			Expect(list).To(HaveLen(1))
			Expect(list[0].ID).To(Equal(a.ID))

			Expect(do(http.MethodDelete, "/v1/sessions/"+a.ID, "u1", nil).StatusCode).To(Equal(http.StatusNoContent))
			Expect(do(http.MethodGet, "/v1/sessions/"+a.ID, "u1", nil).StatusCode).To(Equal(http.StatusNotFound))
		})

		It("lists an empty array when nothing matches", func() {
			resp := do(http.MethodGet, "/v1/sessions?subjectId=nobody", "", nil)
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
		})
	})

	Describe("display policy", func() {
		BeforeEach(func() {
			cfg.MaxMessagesPerSession = 2
		})

		It("enforces the daily cap across the subject's sessions", func() {
			first := createSession("u1")
			second := createSession("u1")

			Expect(evaluate(first.ID, models.Message{MessageID: "m1"}).Allow).To(BeTrue())
			display(first.ID, models.Message{MessageID: "m1"})

			Expect(evaluate(first.ID, models.Message{MessageID: "m1"})).To(Equal(models.Rejected(models.ReasonAlreadyShown)))

			s := display(second.ID, models.Message{MessageID: "m2"})
			Expect(s.MessagesDisplayedToday).To(Equal(2))
			Expect(s.DisplayedMessageIDs).To(ConsistOf("m2"))

			Expect(evaluate(first.ID, models.Message{MessageID: "m3"})).To(Equal(models.Rejected(models.ReasonDailyCapReached)))
		})

		It("refuses a commit that would pass the cap with 409", func() {
			first := createSession("u1")
			second := createSession("u1")
			display(first.ID, models.Message{MessageID: "m1"})

			Expect(evaluate(first.ID, models.Message{MessageID: "m2"}).Allow).To(BeTrue())
			Expect(evaluate(second.ID, models.Message{MessageID: "m3"}).Allow).To(BeTrue())
			display(first.ID, models.Message{MessageID: "m2"})

			resp := do(http.MethodPost, "/v1/sessions/"+second.ID+"/display", "u1", models.DisplayRequest{Message: models.Message{MessageID: "m3"}})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			var d models.Decision
			decode(resp, &d)
			Expect(d).To(Equal(models.Rejected(models.ReasonDailyCapReached)))

			resp = do(http.MethodGet, "/v1/sessions/"+second.ID, "u1", nil)
			var s models.Session
			decode(resp, &s)
			Expect(s.DisplayedMessageIDs).To(BeEmpty())
			Expect(s.MessagesDisplayedToday).To(Equal(2))
		})

		It("returns the id a message without one was evaluated under", func() {
			s := createSession("u1")
			msg := models.Message{Title: "Welcome"}

			resp := do(http.MethodPost, "/v1/sessions/"+s.ID+"/evaluate", "u1", models.EvaluateRequest{Message: msg})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var got models.EvaluateResponse
			decode(resp, &got)
			Expect(got.Allow).To(BeTrue())
			Expect(got.MessageID).NotTo(BeEmpty())

			msg.MessageID = got.MessageID
			after := display(s.ID, msg)
			Expect(after.DisplayedMessageIDs).To(ConsistOf(got.MessageID))
			Expect(evaluate(s.ID, msg)).To(Equal(models.Rejected(models.ReasonAlreadyShown)))
		})

		It("reports auth_required for anonymous evaluation", func() {
			s := createSession("u1")
			msg := models.Message{MessageID: "m1", DisplayConditions: &models.DisplayConditions{RequiresAuth: true}}

			Expect(evaluate(s.ID, msg)).To(Equal(models.Rejected(models.ReasonAuthRequired)))

			resp := do(http.MethodPost, "/v1/sessions/"+s.ID+"/evaluate", "u1", models.EvaluateRequest{Message: msg, Authenticated: true})
			var d models.Decision
			decode(resp, &d)
			Expect(d.Allow).To(BeTrue())
		})

		It("suppresses and resets a session", func() {
			s := createSession("u1")

			resp := do(http.MethodPut, "/v1/sessions/"+s.ID+"/suppress", "u1", models.ToggleRequest{Value: true})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var suppressed models.Session
			decode(resp, &suppressed)
			Expect(suppressed.Suppressed).To(BeTrue())
			Expect(evaluate(s.ID, models.Message{MessageID: "m1"})).To(Equal(models.Rejected(models.ReasonSuppressed)))

			do(http.MethodPut, "/v1/sessions/"+s.ID+"/suppress", "u1", models.ToggleRequest{Value: false})
			display(s.ID, models.Message{MessageID: "m1"})

			resp = do(http.MethodPost, "/v1/sessions/"+s.ID+"/reset", "u1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var reset models.Session
			decode(resp, &reset)
			Expect(reset.MessagesDisplayedToday).To(BeZero())
			Expect(reset.DisplayedMessageIDs).To(BeEmpty())
		})

		It("toggles data collection", func() {
			s := createSession("u1")
			resp := do(http.MethodPut, "/v1/sessions/"+s.ID+"/data-collection", "u1", models.ToggleRequest{Value: false})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var got models.Session
			decode(resp, &got)
			Expect(got.DataCollection).To(BeFalse())
		})

		It("accepts actions for messages never displayed", func() {
			s := createSession("u1")
			resp := do(http.MethodPost, "/v1/sessions/"+s.ID+"/actions", "u1", models.Action{MessageID: "unknown", ActionLabel: "Open"})
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		})
	})

	Describe("catalog", func() {
		It("manages messages and serves the next eligible one", func() {
			resp := do(http.MethodPost, "/v1/messages", "", models.Message{MessageID: "low", Priority: models.PriorityLow})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp = do(http.MethodPost, "/v1/messages", "", models.Message{MessageID: "high", Priority: models.PriorityHigh})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var stored models.Message
			decode(resp, &stored)
			Expect(stored.Title).To(Equal("Notification"))

			resp = do(http.MethodGet, "/v1/messages", "", nil)
			var list []models.Message
			decode(resp, &list)
			Expect(list).To(HaveLen(2))

			s := createSession("u1")
			resp = do(http.MethodGet, "/v1/sessions/"+s.ID+"/next", "u1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var next models.NextMessageResponse
			decode(resp, &next)
			Expect(next.Message).NotTo(BeNil())
			Expect(next.Message.MessageID).To(Equal("high"))
			Expect(next.Decision.Allow).To(BeTrue())

			Expect(do(http.MethodDelete, "/v1/messages/high", "", nil).StatusCode).To(Equal(http.StatusNoContent))
			Expect(do(http.MethodGet, "/v1/messages/high", "", nil).StatusCode).To(Equal(http.StatusNotFound))
			Expect(do(http.MethodDelete, "/v1/messages/high", "", nil).StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("rate limiting", func() {
		BeforeEach(func() {
			limiter = ratelimit.NewLimiter(1, 2)
		})

		It("rejects a subject over its allowance", func() {
			s := createSession("u1")
			Expect(s.ID).NotTo(BeEmpty())

			resp := do(http.MethodGet, "/v1/sessions/"+s.ID, "u1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("X-RateLimit-Limit")).To(Equal("1"))

			resp = do(http.MethodGet, "/v1/sessions/"+s.ID, "u1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
			Expect(resp.Header.Get("X-RateLimit-Remaining")).To(Equal("0"))

			Expect(do(http.MethodGet, "/v1/sessions/"+s.ID, "u2", nil).StatusCode).To(Equal(http.StatusOK))
		})

		It("counts requests without a subject against the session's subject", func() {
			s := createSession("u1")

			Expect(do(http.MethodGet, "/v1/sessions/"+s.ID, "", nil).StatusCode).To(Equal(http.StatusOK))
			Expect(do(http.MethodGet, "/v1/sessions/"+s.ID, "", nil).StatusCode).To(Equal(http.StatusTooManyRequests))
		})

		It("limits anonymous requests by client address", func() {
			Expect(do(http.MethodGet, "/v1/sessions/missing", "", nil).StatusCode).To(Equal(http.StatusNotFound))
			Expect(do(http.MethodGet, "/v1/sessions/missing", "", nil).StatusCode).To(Equal(http.StatusNotFound))
			Expect(do(http.MethodGet, "/v1/sessions/missing", "", nil).StatusCode).To(Equal(http.StatusTooManyRequests))
		})
	})

	Describe("event stream", func() {
		It("returns 404 for unknown sessions", func() {
			Expect(do(http.MethodGet, "/v1/sessions/missing/events", "", nil).StatusCode).To(Equal(http.StatusNotFound))
		})

		It("pushes the session's events", func() {
			s := createSession("u1")
			other := createSession("u2")

			url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/sessions/" + s.ID + "/events"
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			Eventually(mgr.Bus().Len).Should(Equal(1))

			do(http.MethodPost, "/v1/sessions/"+other.ID+"/display", "u2", models.DisplayRequest{Message: models.Message{MessageID: "elsewhere"}})
			display(s.ID, models.Message{MessageID: "m1", CampaignName: "spring"})

			Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
			var e events.Event
			Expect(conn.ReadJSON(&e)).To(Succeed())
			Expect(e.Kind).To(Equal(events.KindMessageDisplayed))
			Expect(e.SessionID).To(Equal(s.ID))
			Expect(e.Message.MessageID).To(Equal("m1"))

			Expect(conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))).To(Succeed())
			Eventually(mgr.Bus().Len).Should(BeZero())
		})
	})
})
