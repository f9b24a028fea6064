package controllers

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"

	"csr-volunteer/middleware"
	"csr-volunteer/models"
	"csr-volunteer/utils"
)

// NewHandler wires every route onto a mux router. limiter may be nil, which
// leaves /api/login unthrottled.
func NewHandler(db *sql.DB, env *Env, limiter *middleware.IPRateLimiter, corsOrigins []string) http.Handler {
	auth := AuthController{env}
	admin := AdminController{env}
	requests := HelpRequestController{env}
	csr := CSRController{env}
	pm := PMController{env}
	legacy := LegacyController{env}

	authenticate := middleware.Authenticate(db, env.Tokens, env.Denylist, env.Log)
	authed := func(h http.HandlerFunc, roles ...models.Role) http.Handler {
		var next http.Handler = h
		if len(roles) > 0 {
			next = middleware.RequireRole(roles...)(next)
		}
		return authenticate(next)
	}

	var login http.Handler = auth.Login(db)
	if limiter != nil {
		login = limiter.Limit(login)
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notFound(w, "Not found.")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, models.Error{Message: "Method not allowed."})
	})

	router.Handle("/", legacy.Health()).Methods("GET")
	router.Handle("/users", legacy.Users(db)).Methods("GET")
	router.Handle("/requests", legacy.Requests(db)).Methods("GET")
	router.Handle("/categories", legacy.Categories(db)).Methods("GET")
	router.Handle("/stats", legacy.Stats(db)).Methods("GET")

	router.Handle("/api/login", login).Methods("POST")
	router.Handle("/api/logout", authed(auth.Logout(db))).Methods("POST")
	router.Handle("/api/me", authed(auth.Me(db))).Methods("GET")
	router.Handle("/api/change-password", authed(auth.ChangePassword(db))).Methods("POST")

	adminOnly := []models.Role{models.RoleAdmin}
	router.Handle("/api/admin/users", authed(admin.ListUsers(db), adminOnly...)).Methods("GET")
	router.Handle("/api/admin/users/export", authed(admin.ExportUsers(db), adminOnly...)).Methods("GET")
	router.Handle("/api/admin/users", authed(admin.CreateUser(db), adminOnly...)).Methods("POST")
	router.Handle("/api/admin/users/create", authed(admin.CreateUser(db), adminOnly...)).Methods("POST")
	router.Handle("/api/admin/users/{id:[0-9]+}", authed(admin.UpdateUser(db), adminOnly...)).Methods("PATCH", "PUT")
	router.Handle("/api/admin/users/{id:[0-9]+}", authed(admin.DeleteUser(db), adminOnly...)).Methods("DELETE")
	router.Handle("/api/admin/users/{id:[0-9]+}/reset-password", authed(admin.ResetPassword(db), adminOnly...)).Methods("POST")
	router.Handle("/api/admin/stats", authed(admin.Stats(db), adminOnly...)).Methods("GET")
	router.Handle("/api/admin/user-stats", authed(admin.UserStats(db), adminOnly...)).Methods("GET")
	router.Handle("/api/admin/activity-logs", authed(admin.ActivityLogs(db), adminOnly...)).Methods("GET")

	csrReaders := []models.Role{models.RoleCSR, models.RolePlatformManager, models.RoleAdmin}
	router.Handle("/api/help_requests/open", authed(csr.OpenRequests(db), csrReaders...)).Methods("GET")
	router.Handle("/api/help_requests/{userId:[0-9]+}", authed(requests.ListForUser(db))).Methods("GET")
	router.Handle("/api/help-requests", authed(requests.Create(db), models.RolePIN, models.RoleAdmin)).Methods("POST")
	router.Handle("/api/help-requests/{id:[0-9]+}", authed(requests.Get(db))).Methods("GET")
	router.Handle("/api/help-requests/{id:[0-9]+}", authed(requests.Update(db), models.RolePIN, models.RoleAdmin)).Methods("PATCH", "PUT")
	router.Handle("/api/help-requests/{id:[0-9]+}", authed(requests.Delete(db), models.RolePIN, models.RoleAdmin)).Methods("DELETE")
	router.Handle("/api/help-requests/{id:[0-9]+}/feedback", authed(requests.SubmitFeedback(db), models.RolePIN)).Methods("POST")
	router.Handle("/api/categories", authed(requests.ActiveCategories(db))).Methods("GET")

	router.Handle("/api/requests/{id:[0-9]+}/accept", authed(csr.Accept(db), models.RoleCSR)).Methods("POST")
	router.Handle("/api/requests/{id:[0-9]+}/shortlist", authed(csr.Shortlist(db), models.RoleCSR)).Methods("POST")
	router.Handle("/api/requests/{id:[0-9]+}/shortlist", authed(csr.Unshortlist(db), models.RoleCSR)).Methods("DELETE")
	for _, path := range []string{"/api/csr/shortlist", "/api/csr/shortlist/{csrId:[0-9]+}"} {
		router.Handle(path, authed(csr.ListShortlist(db), csrReaders...)).Methods("GET")
	}
	for _, path := range []string{"/api/csr/accepted", "/api/csr/accepted/{csrId:[0-9]+}"} {
		router.Handle(path, authed(csr.ListAccepted(db), csrReaders...)).Methods("GET")
	}
	for _, path := range []string{"/api/csr/completed", "/api/csr/completed/{csrId:[0-9]+}"} {
		router.Handle(path, authed(csr.ListCompleted(db), csrReaders...)).Methods("GET")
	}
	router.Handle("/api/csr/accepted/{id:[0-9]+}", authed(csr.UpdateAccepted(db), models.RoleCSR)).Methods("PATCH", "PUT")
	router.Handle("/api/csr/accepted/{id:[0-9]+}/remove", authed(csr.Remove(db), models.RoleCSR)).Methods("POST")
	router.Handle("/api/csr/accepted/{id:[0-9]+}/complete", authed(csr.Complete(db), models.RoleCSR)).Methods("POST")

	managers := []models.Role{models.RolePlatformManager, models.RoleAdmin}
	router.Handle("/api/pm/categories", authed(pm.ListCategories(db), managers...)).Methods("GET")
	router.Handle("/api/pm/categories", authed(pm.CreateCategory(db), managers...)).Methods("POST")
	router.Handle("/api/pm/categories/{id:[0-9]+}", authed(pm.UpdateCategory(db), managers...)).Methods("PATCH", "PUT")
	router.Handle("/api/pm/categories/{id:[0-9]+}", authed(pm.DeleteCategory(db), managers...)).Methods("DELETE")
	router.Handle("/api/pm/requests", authed(pm.ListRequests(db), managers...)).Methods("GET")
	router.Handle("/api/pm/requests/export", authed(pm.ExportRequests(db), managers...)).Methods("GET")
	router.Handle("/api/pm/requests/{id:[0-9]+}/status", authed(pm.SetRequestStatus(db), managers...)).Methods("POST")
	router.Handle("/api/pm/analytics", authed(pm.Analytics(db), managers...)).Methods("GET")
	router.Handle("/api/pm/reports", authed(pm.ListReports(db), managers...)).Methods("GET")
	router.Handle("/api/pm/reports", authed(pm.GenerateReport(db), managers...)).Methods("POST")
	router.Handle("/api/pm/reports/{id:[0-9]+}", authed(pm.GetReport(db), managers...)).Methods("GET")

	var h http.Handler = router
	h = middleware.Recover(env.Log)(h)
	h = middleware.RequestLogger(env.Log)(h)
	return middleware.CORS(corsOrigins)(h)
}
