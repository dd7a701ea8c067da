package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"storyboard/domain"
)

// Register wires up all board routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, logger *log.Logger) {
	e.GET("/xhr/settings", getSettings(store))
	e.GET("/xhr/list", getList(store, auth, logger))
	e.GET("/xhr/lastchange", getLastChange(store))
	e.POST("/xhr/login", postLogin(store, auth))
	e.GET("/xhr/logout", getLogout())
	e.POST("/xhr/move", postMove(store, auth, logger))
	e.POST("/xhr/updateCard", postUpdateCard(store, auth))
	e.POST("/xhr/addCard", postAddCard(store, auth))
	e.GET("/healthz", healthz(store))
}

type listResponse struct {
	AuthedUser string                 `json:"authed_user"`
	Authed     int                    `json:"authed"`
	Data       map[string]domain.Card `json:"data"`
	Loaded     domain.Marker          `json:"loaded"`
	Sprints    []string               `json:"sprints"`
}

type updateResponse struct {
	Timestamp domain.Marker     `json:"timestamp"`
	ID        string            `json:"id"`
	Data      map[string]string `json:"data"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// criticalError renders the structured error payload clients surface as
// a blocking notification.
func criticalError(c echo.Context, message string) error {
	return c.JSON(http.StatusOK, errorResponse{Error: true, Message: message})
}

const moveFailed = "0"

func healthz(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := store.LastChange(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
		return c.NoContent(http.StatusOK)
	}
}

func getSettings(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		settings, err := store.FetchSettings(c.Request().Context())
		if err != nil {
			c.Logger().Error(err)
			return criticalError(c, "unable to load board settings")
		}
		return c.JSON(http.StatusOK, settings)
	}
}

func getList(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		product := c.QueryParam("product")
		sprint := c.QueryParam("sprint")
		if sprint == "" {
			sprint = "all"
		}
		if product == "" {
			settings, err := store.FetchSettings(ctx)
			if err != nil {
				c.Logger().Error(err)
				return criticalError(c, "unable to load board settings")
			}
			product = settings.DefaultProduct
		}

		authed := 0
		user, err := userFrom(c, auth)
		if err == nil && user != "" {
			authed = 1
		}

		// The marker is read before the cards. A mutation landing in
		// between then yields a marker older than the snapshot, which
		// costs the client one redundant refresh; the reverse order
		// would certify stale cards with a fresh marker and leave
		// pollers stuck until the next mutation.
		loaded, err := store.LastChange(ctx)
		if err != nil {
			c.Logger().Error(err)
			return criticalError(c, "unable to load change marker")
		}
		cards, err := store.FetchCards(ctx, product, sprint)
		if err != nil {
			c.Logger().Error(err)
			return criticalError(c, "unable to load cards")
		}
		sprints, err := store.FetchSprints(ctx, product)
		if err != nil {
			c.Logger().Error(err)
			return criticalError(c, "unable to load sprints")
		}

		logger.WithFields(log.Fields{"product": product, "sprint": sprint, "cards": len(cards)}).Debug("list served")
		return c.JSON(http.StatusOK, listResponse{
			AuthedUser: user,
			Authed:     authed,
			Data:       cards,
			Loaded:     loaded,
			Sprints:    sprints,
		})
	}
}

func getLastChange(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		marker, err := store.LastChange(c.Request().Context())
		if err != nil {
			c.Logger().Error(err)
			return criticalError(c, "unable to load change marker")
		}
		return c.String(http.StatusOK, marker.String())
	}
}

func postLogin(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		username := c.FormValue("username")
		password := c.FormValue("password")
		if username == "" || password == "" {
			return criticalError(c, "invalid username or password")
		}

		hash, err := store.FetchUserHash(c.Request().Context(), username)
		if err != nil || !CheckPassword(hash, password) {
			return criticalError(c, "invalid username or password")
		}

		token, err := auth.IssueToken(username)
		if err != nil {
			c.Logger().Error(err)
			return criticalError(c, "unable to start a session")
		}
		c.SetCookie(&http.Cookie{
			Name:     AuthCookie,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		return c.JSON(http.StatusOK, loginResponse{Token: token})
	}
}

func getLogout() echo.HandlerFunc {
	return func(c echo.Context) error {
		c.SetCookie(&http.Cookie{
			Name:     AuthCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
		return c.NoContent(http.StatusOK)
	}
}

func postMove(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMoveRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := userFrom(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		id := c.FormValue("id")
		status := c.FormValue("status")
		metrics.SetMove(id, status)
		if id == "" || status == "" {
			metrics.SetErrorStage("bad_request")
			err = c.String(http.StatusBadRequest, "missing id or status")
			return err
		}

		// The client already validated, but the server is authoritative:
		// a stale or hostile client must not bypass the constraint set.
		validateStart := time.Now()
		settings, sErr := store.FetchSettings(ctx)
		if sErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(sErr)
			err = c.String(http.StatusOK, moveFailed)
			return err
		}
		card, cErr := store.FetchCard(ctx, id)
		if cErr != nil {
			metrics.SetErrorStage(moveErrorStage(cErr))
			c.Logger().Error(cErr)
			err = c.String(http.StatusOK, moveFailed)
			return err
		}
		decision := settings.Constraints.Statuses.ValidateTransition(card, status)
		metrics.ObserveValidate(time.Since(validateStart))
		if !decision.OK {
			metrics.SetErrorStage("constraint")
			err = c.String(http.StatusOK, moveFailed)
			return err
		}

		storeStart := time.Now()
		marker, mErr := store.MoveCard(ctx, id, status)
		metrics.ObserveStore(time.Since(storeStart))
		if mErr != nil {
			metrics.SetErrorStage(moveErrorStage(mErr))
			c.Logger().Error(mErr)
			err = c.String(http.StatusOK, moveFailed)
			return err
		}

		err = c.String(http.StatusOK, marker.String())
		return err
	}
}

func moveErrorStage(err error) string {
	var unknown UnknownCardError
	if errors.As(err, &unknown) {
		return "unknown_card"
	}
	return "storage"
}

func postUpdateCard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := userFrom(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		fields, err := formFields(c)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		id := fields["id"]
		delete(fields, "id")
		if id == "" || len(fields) == 0 {
			return c.String(http.StatusBadRequest, "missing id or fields")
		}

		applied, marker, err := store.UpdateCard(ctx, id, fields)
		if err != nil {
			var unknown UnknownCardError
			if errors.As(err, &unknown) {
				return criticalError(c, "unknown card")
			}
			c.Logger().Error(err)
			return criticalError(c, "unable to save card")
		}
		return c.JSON(http.StatusOK, updateResponse{Timestamp: marker, ID: id, Data: applied})
	}
}

func postAddCard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := userFrom(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		fields, err := formFields(c)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		var card domain.Card
		for k, v := range fields {
			card.SetField(k, v)
		}
		if card.ID == "" {
			card.ID = uuid.NewString()
		}
		if card.Product == "" {
			return criticalError(c, "a card needs a product")
		}

		settings, err := store.FetchSettings(ctx)
		if err != nil {
			c.Logger().Error(err)
			return criticalError(c, "unable to load board settings")
		}
		// Every card must sit in a declared status group.
		if !settings.Constraints.Statuses.HasStatus(card.Status) {
			return criticalError(c, "unknown status "+card.Status)
		}

		marker, err := store.AddCard(ctx, card)
		if err != nil {
			c.Logger().Error(err)
			return criticalError(c, "unable to save card")
		}
		return c.JSON(http.StatusOK, updateResponse{Timestamp: marker, ID: card.ID, Data: fields})
	}
}

// userFrom authenticates a request from either the Authorization header
// or the session cookie.
func userFrom(c echo.Context, auth Authenticator) (string, error) {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		return auth.UserFromAuthHeader(h)
	}
	cookie, err := c.Cookie(AuthCookie)
	if err != nil || cookie.Value == "" {
		return "", errMissingAuthorization
	}
	if a, ok := auth.(*Auth); ok {
		return a.UserFromToken(cookie.Value)
	}
	return auth.UserFromAuthHeader("Bearer " + cookie.Value)
}

func formFields(c echo.Context) (map[string]string, error) {
	if err := c.Request().ParseForm(); err != nil {
		return nil, err
	}
	form := c.Request().PostForm
	fields := make(map[string]string, len(form))
	for k, vs := range form {
		if len(vs) > 0 {
			fields[k] = vs[0]
		}
	}
	return fields, nil
}
