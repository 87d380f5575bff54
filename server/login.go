package server

import (
	"context"
	"net/http"

	"prosthesisgw/store"
)

// CallbackParams are the query parameters the IdP appends to the redirect URI.
type CallbackParams struct {
	Code             string
	Error            string
	ErrorDescription string
}

// CallbackParamsFromRequest reads the callback query.
func CallbackParamsFromRequest(r *http.Request) CallbackParams {
	q := r.URL.Query()
	return CallbackParams{
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
}

// LoginPipeline turns an authorization code into a session and a user record.
type LoginPipeline struct {
	idp       IdentityProvider
	directory *UserDirectory
}

// NewLoginPipeline builds the callback pipeline.
func NewLoginPipeline(idp IdentityProvider, directory *UserDirectory) *LoginPipeline {
	return &LoginPipeline{idp: idp, directory: directory}
}

// Run executes the callback steps in order and stops at the first failure.
// The returned error is an *AuthError carrying the specific kind; callers
// normalize it before rendering. Nothing is written to the response here, so a
// failure never leaves a partial session behind.
func (p *LoginPipeline) Run(ctx context.Context, params CallbackParams) (TokenSet, *store.User, error) {
	if params.Error != "" {
		detail := params.Error
		if params.ErrorDescription != "" {
			detail += ": " + params.ErrorDescription
		}
		return TokenSet{}, nil, newFailure(KindIdentityProviderRejected, detail, nil)
	}
	if params.Code == "" {
		return TokenSet{}, nil, newFailure(KindMissingCode, "", nil)
	}

	tokens, err := p.idp.Exchange(ctx, params.Code)
	if err != nil {
		if KindOf(err) == 0 {
			err = newFailure(KindTokenExchangeFailed, "exchange code", err)
		}
		return TokenSet{}, nil, err
	}
	if err := checkTokenSet(tokens); err != nil {
		return TokenSet{}, nil, err
	}

	claims, err := p.idp.DecodeToken(ctx, tokens.AccessToken)
	if err != nil {
		if KindOf(err) == 0 {
			err = newFailure(KindTokenDecodeFailed, "decode access token", err)
		}
		return TokenSet{}, nil, err
	}
	if claims.Subject == "" {
		return TokenSet{}, nil, newFailure(KindMissingSubject, "access token has no sub", nil)
	}

	user, err := p.directory.Resolve(ctx, claims)
	if err != nil {
		return TokenSet{}, nil, err
	}
	return tokens, user, nil
}

func checkTokenSet(t TokenSet) error {
	switch {
	case t.AccessToken == "":
		return newFailure(KindMissingAccessToken, "", nil)
	case t.RefreshToken == "":
		return newFailure(KindMissingRefreshToken, "", nil)
	case t.IDToken == "":
		return newFailure(KindMissingIDToken, "", nil)
	}
	return nil
}

func (a *App) handleLoginCallback(w http.ResponseWriter, r *http.Request) {
	tokens, user, err := a.Login.Run(r.Context(), CallbackParamsFromRequest(r))
	if err != nil {
		a.Logger.Warn("login callback failed",
			"request_id", RequestIDFromContext(r.Context()),
			"kind", KindOf(err).String(),
			"error", err,
		)
		a.renderError(w, r, Normalize(err))
		return
	}

	setLogSubject(r.Context(), user.ID)
	a.Cookies.Set(w, tokens)
	a.Logger.Info("login succeeded", "user_sub", user.ID)
	http.Redirect(w, r, a.Config.Server.PostLoginPath, http.StatusFound)
}
