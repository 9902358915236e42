package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/crowdpulse/internal/app"
	apperrors "github.com/pscheid92/crowdpulse/internal/platform/errors"
)

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api", newSpectatorLimiter(s.config.APIRateLimit, s.config.APIRateBurst, s.spectatorKey), s.requireIdentity)

	api.GET("/snapshot", s.handleSnapshot)
	api.GET("/presence", s.handlePresence)

	api.GET("/emotions", s.handleEmotions)
	api.POST("/emotions", s.handleActivateEmotion)

	api.GET("/pools", s.handleListPools)
	api.POST("/pools", s.handleCreatePool)
	api.GET("/pools/:id", s.handleGetPool)
	api.POST("/pools/:id/stakes", s.handlePlaceStake)
	api.POST("/pools/:id/close", s.handleClosePool)
	api.POST("/pools/:id/resolve", s.handleResolvePool)
	api.GET("/pools/:id/settlement", s.handleGetSettlement)

	api.GET("/proposals", s.handleListProposals)
	api.POST("/proposals", s.handlePropose)
	api.GET("/proposals/:id", s.handleGetProposal)
	api.POST("/proposals/:id/votes", s.handleVote)
}

func bindBody(c echo.Context, dst any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, dst); err != nil {
		return apperrors.ValidationError("malformed request body").WithCause(err)
	}
	return nil
}

func respond(c echo.Context, status int, body any) error {
	if err := c.JSON(status, body); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleSnapshot(c echo.Context) error {
	return respond(c, http.StatusOK, s.app.Snapshot(c.Request().Context(), c.QueryParam("room")))
}

func (s *Server) handlePresence(c echo.Context) error {
	return respond(c, http.StatusOK, s.app.Presence(c.QueryParam("room")))
}

func (s *Server) handleEmotions(c echo.Context) error {
	return respond(c, http.StatusOK, s.app.Emotions())
}

func (s *Server) handleActivateEmotion(c echo.Context) error {
	var args app.ActivateArgs
	if err := bindBody(c, &args); err != nil {
		return err
	}
	agg, err := s.app.ActivateEmotion(c.Request().Context(), identityFrom(c), args.Emotion)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, agg)
}

func (s *Server) handleListPools(c echo.Context) error {
	return respond(c, http.StatusOK, s.app.Pools(c.QueryParam("room")))
}

func (s *Server) handleCreatePool(c echo.Context) error {
	var args app.CreatePoolArgs
	if err := bindBody(c, &args); err != nil {
		return err
	}
	pool, err := s.app.CreatePool(c.Request().Context(), identityFrom(c), args)
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, pool)
}

func (s *Server) handleGetPool(c echo.Context) error {
	pool, err := s.app.Pool(c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, pool)
}

func (s *Server) handlePlaceStake(c echo.Context) error {
	var args app.StakeArgs
	if err := bindBody(c, &args); err != nil {
		return err
	}
	args.PoolID = c.Param("id")
	totals, err := s.app.PlaceStake(c.Request().Context(), identityFrom(c), args)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, totals)
}

func (s *Server) handleClosePool(c echo.Context) error {
	var args app.ResolveArgs
	if err := bindBody(c, &args); err != nil {
		return err
	}
	args.PoolID = c.Param("id")
	outcome, err := s.app.ClosePool(c.Request().Context(), identityFrom(c), args)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, outcome)
}

func (s *Server) handleResolvePool(c echo.Context) error {
	var args app.ResolveArgs
	if err := bindBody(c, &args); err != nil {
		return err
	}
	args.PoolID = c.Param("id")
	outcome, err := s.app.ResolvePool(c.Request().Context(), identityFrom(c), args)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, outcome)
}

func (s *Server) handleGetSettlement(c echo.Context) error {
	settlement, err := s.app.Settlement(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, settlement)
}

func (s *Server) handleListProposals(c echo.Context) error {
	return respond(c, http.StatusOK, s.app.Proposals(c.QueryParam("room")))
}

func (s *Server) handlePropose(c echo.Context) error {
	var args app.ProposeArgs
	if err := bindBody(c, &args); err != nil {
		return err
	}
	proposal, err := s.app.Propose(c.Request().Context(), identityFrom(c), args)
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, proposal)
}

func (s *Server) handleGetProposal(c echo.Context) error {
	proposal, err := s.app.Proposal(c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, proposal)
}

func (s *Server) handleVote(c echo.Context) error {
	var args app.VoteArgs
	if err := bindBody(c, &args); err != nil {
		return err
	}
	args.ProposalID = c.Param("id")
	proposal, err := s.app.Vote(c.Request().Context(), identityFrom(c), args)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, proposal)
}
