package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	gootel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"pmsdesk/pkg/cart"
	"pmsdesk/pkg/checkout"
	"pmsdesk/pkg/logger"
	"pmsdesk/pkg/menu"
	"pmsdesk/pkg/order"
	"pmsdesk/pkg/otel"
	"pmsdesk/pkg/session"
)

const (
	sessionCookie = "session_id"
	maxBodyBytes  = 64 << 10
)

type userKey struct{}

type sessionStore interface {
	Create(ctx context.Context, user string) (string, error)
	Lookup(ctx context.Context, sid string) (string, error)
	Delete(ctx context.Context, sid string) error
	TTL() time.Duration
}

type server struct {
	log      *logger.Logger
	tracer   trace.Tracer
	sessions sessionStore
	storage  cart.Storage
	orders   *order.Aggregator
	checkout *checkout.Service
	taxRate  decimal.Decimal

	mu    sync.Mutex
	carts map[string]*cart.Store
}

func newServer(log *logger.Logger, tracer trace.Tracer, sessions sessionStore, storage cart.Storage,
	orders *order.Aggregator, co *checkout.Service, taxRate decimal.Decimal) *server {
	return &server{
		log:      log,
		tracer:   tracer,
		sessions: sessions,
		storage:  storage,
		orders:   orders,
		checkout: co,
		taxRate:  taxRate,
		carts:    make(map[string]*cart.Store),
	}
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.traceMiddleware)
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/login", s.loginHandler).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.logoutHandler).Methods(http.MethodPost)

	c := r.PathPrefix("/cart").Subrouter()
	c.Use(s.authMiddleware)
	c.HandleFunc("", s.getCartHandler).Methods(http.MethodGet)
	c.HandleFunc("", s.clearCartHandler).Methods(http.MethodDelete)
	c.HandleFunc("/items", s.addItemHandler).Methods(http.MethodPost)
	c.HandleFunc("/items/{id}", s.removeItemHandler).Methods(http.MethodDelete)
	c.HandleFunc("/items/{id}", s.updateQuantityHandler).Methods(http.MethodPatch)
	c.HandleFunc("/toggle", s.toggleCartHandler).Methods(http.MethodPost)
	c.HandleFunc("/commit", s.commitHandler).Methods(http.MethodPost)

	o := r.PathPrefix("/orders").Subrouter()
	o.Use(s.authMiddleware)
	o.HandleFunc("", s.createOrderHandler).Methods(http.MethodPost)
	o.HandleFunc("", s.listOrdersHandler).Methods(http.MethodGet)
	o.HandleFunc("/{id}", s.getOrderHandler).Methods(http.MethodGet)
	o.HandleFunc("/{id}/complete", s.completeOrderHandler).Methods(http.MethodPost)
	return r
}

// cartFor returns the cart of user, loading its snapshot on first use.
func (s *server) cartFor(ctx context.Context, user string) *cart.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[user]
	if !ok {
		c = cart.New(ctx, s.storage, cart.DefaultKey+":"+user, s.log)
		s.carts[user] = c
	}
	return c
}

func userFrom(ctx context.Context) string {
	u, _ := ctx.Value(userKey{}).(string)
	return u
}

// healthHandler reports liveness.
// @Summary Liveness probe
// @Success 200
// @Router /healthz [get]
func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// loginHandler handles user login and session creation.
// @Summary Login
// @Description Authenticates user and sets session cookie
// @Accept json
// @Produce json
// @Param creds body loginRequest true "Credentials"
// @Success 200
// @Router /login [post]
func (s *server) loginHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "loginHandler")
	defer span.End()

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Username == "" {
		http.Error(w, "invalid credentials", http.StatusBadRequest)
		return
	}
	sid, err := s.sessions.Create(ctx, req.Username)
	if err != nil {
		s.log.Error(ctx, "create session", "error", err)
		http.Error(w, "session error", http.StatusInternalServerError)
		return
	}
	ttl := s.sessions.TTL()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusOK)
}

// logoutHandler ends the session and expires its cookie.
// @Summary Logout
// @Success 204
// @Router /logout [post]
func (s *server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "logoutHandler")
	defer span.End()

	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		if err := s.sessions.Delete(ctx, c.Value); err != nil {
			s.log.Error(ctx, "delete session", "error", err)
			http.Error(w, "session error", http.StatusInternalServerError)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// getCartHandler shows the cart of the current user.
// @Summary Show cart
// @Produce json
// @Success 200 {object} cartResponse
// @Security ApiKeyAuth
// @Router /cart [get]
func (s *server) getCartHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "getCartHandler")
	defer span.End()

	s.writeCart(w, s.cartFor(ctx, userFrom(ctx)))
}

// addItemHandler adds one unit of a menu item to the cart.
// @Summary Add item to cart
// @Accept json
// @Produce json
// @Param item body menu.Item true "Menu item"
// @Success 200 {object} cartResponse
// @Security ApiKeyAuth
// @Router /cart/items [post]
func (s *server) addItemHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "addItemHandler")
	defer span.End()

	var item menu.Item
	if err := decodeJSON(w, r, &item); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	item = item.Normalize()
	if item.ID == "" {
		http.Error(w, "item id is required", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("item.id", string(item.ID)))

	c := s.cartFor(ctx, userFrom(ctx))
	c.AddItem(ctx, item)
	s.writeCart(w, c)
}

// removeItemHandler removes an item from the cart.
// @Summary Remove item from cart
// @Produce json
// @Param id path string true "Item ID"
// @Success 200 {object} cartResponse
// @Security ApiKeyAuth
// @Router /cart/items/{id} [delete]
func (s *server) removeItemHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "removeItemHandler")
	defer span.End()

	c := s.cartFor(ctx, userFrom(ctx))
	c.RemoveItem(ctx, menu.ParseItemID(mux.Vars(r)["id"]))
	s.writeCart(w, c)
}

// updateQuantityHandler changes the quantity of a cart line by delta.
// @Summary Change item quantity
// @Accept json
// @Produce json
// @Param id path string true "Item ID"
// @Param delta body quantityRequest true "Quantity delta"
// @Success 200 {object} cartResponse
// @Security ApiKeyAuth
// @Router /cart/items/{id} [patch]
func (s *server) updateQuantityHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "updateQuantityHandler")
	defer span.End()

	var req quantityRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Delta == nil {
		http.Error(w, "delta is required", http.StatusBadRequest)
		return
	}
	c := s.cartFor(ctx, userFrom(ctx))
	c.UpdateQuantity(ctx, menu.ParseItemID(mux.Vars(r)["id"]), *req.Delta)
	s.writeCart(w, c)
}

// toggleCartHandler flips the cart visibility flag.
// @Summary Toggle cart visibility
// @Produce json
// @Success 200 {object} toggleResponse
// @Security ApiKeyAuth
// @Router /cart/toggle [post]
func (s *server) toggleCartHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "toggleCartHandler")
	defer span.End()

	open := s.cartFor(ctx, userFrom(ctx)).ToggleOpen()
	writeJSON(w, http.StatusOK, toggleResponse{Open: open})
}

// clearCartHandler empties the cart.
// @Summary Clear cart
// @Success 204
// @Security ApiKeyAuth
// @Router /cart [delete]
func (s *server) clearCartHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "clearCartHandler")
	defer span.End()

	s.cartFor(ctx, userFrom(ctx)).Clear(ctx)
	w.WriteHeader(http.StatusNoContent)
}

// commitHandler submits the cart as an order for a table or room.
// @Summary Commit cart as order
// @Accept json
// @Produce json
// @Param commit body commitRequest true "Location"
// @Success 201 {object} orderIDResponse
// @Security ApiKeyAuth
// @Router /cart/commit [post]
func (s *server) commitHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "commitHandler")
	defer span.End()

	var req commitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("location.id", req.LocationID), attribute.String("location.type", req.Type))

	id, err := s.checkout.Commit(ctx, s.cartFor(ctx, userFrom(ctx)), req.LocationID, order.Type(req.Type))
	if err != nil {
		s.writeError(ctx, w, "commit cart", err)
		return
	}
	writeJSON(w, http.StatusCreated, orderIDResponse{ID: id})
}

// createOrderHandler merges items into the pending order of a location.
// @Summary Create or merge order
// @Accept json
// @Produce json
// @Param order body createOrderRequest true "Order request"
// @Success 201 {object} orderIDResponse
// @Security ApiKeyAuth
// @Router /orders [post]
func (s *server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "createOrderHandler")
	defer span.End()

	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.orders.CreateOrder(ctx, req.LocationID, order.Type(req.Type), req.Items)
	if err != nil {
		s.writeError(ctx, w, "create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, orderIDResponse{ID: id})
}

// listOrdersHandler lists orders.
// @Summary List orders
// @Produce json
// @Success 200 {array} order.Order
// @Security ApiKeyAuth
// @Router /orders [get]
func (s *server) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "listOrdersHandler")
	defer span.End()

	orders, err := s.orders.List(ctx)
	if err != nil {
		s.writeError(ctx, w, "list orders", err)
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// getOrderHandler retrieves an order by ID.
// @Summary Get order
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} order.Order
// @Security ApiKeyAuth
// @Router /orders/{id} [get]
func (s *server) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "getOrderHandler")
	defer span.End()

	o, err := s.orders.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(ctx, w, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// completeOrderHandler closes a pending order.
// @Summary Complete order
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} order.Order
// @Security ApiKeyAuth
// @Router /orders/{id}/complete [post]
func (s *server) completeOrderHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "completeOrderHandler")
	defer span.End()

	o, err := s.checkout.Complete(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(ctx, w, "complete order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// authMiddleware ensures a valid session exists.
func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		user, err := s.sessions.Lookup(r.Context(), c.Value)
		if err != nil {
			if !errors.Is(err, session.ErrNoSession) {
				s.log.Error(r.Context(), "lookup session", "error", err)
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := gootel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx = otel.InjectTracing(ctx, s.tracer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) writeCart(w http.ResponseWriter, c *cart.Store) {
	sum := c.Summary(s.taxRate)
	writeJSON(w, http.StatusOK, cartResponse{
		Items:    c.Lines(),
		Count:    c.Count(),
		Subtotal: sum.Subtotal,
		Tax:      sum.Tax,
		Total:    sum.Total,
		Open:     c.IsOpen(),
	})
}

func (s *server) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, order.ErrInvalidLocation), errors.Is(err, order.ErrInvalidType), errors.Is(err, order.ErrNoItems):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, order.ErrNotPending), errors.Is(err, order.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.log.Error(ctx, op, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// decodeJSON reads at most maxBodyBytes of the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// loginRequest represents login credentials.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type quantityRequest struct {
	Delta *int `json:"delta"`
}

type commitRequest struct {
	LocationID string `json:"location_id"`
	Type       string `json:"type"`
}

type createOrderRequest struct {
	LocationID string       `json:"location_id"`
	Type       string       `json:"type"`
	Items      []order.Line `json:"items"`
}

type orderIDResponse struct {
	ID string `json:"id"`
}

type toggleResponse struct {
	Open bool `json:"open"`
}

type cartResponse struct {
	Items    []cart.Line     `json:"items"`
	Count    int             `json:"count"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
	Open     bool            `json:"open"`
}
