// Package app is the demo application: a landing page and a JSON resource
// over the biaya table.
package app

import (
	"github.com/go-chi/chi/v5/middleware"

	"github.com/minifast/minifast/app/controllers"
	appmw "github.com/minifast/minifast/app/middleware"
	"github.com/minifast/minifast/router"
	"github.com/minifast/minifast/server"
)

// Register provides the controllers and declares the routes.
func Register(a *server.App) error {
	if err := a.Container.Provide(
		controllers.NewHome,
		controllers.NewBiaya,
		controllers.NewFile,
	); err != nil {
		return err
	}

	a.Use(middleware.RealIP)

	api := []router.Ref{router.Func(appmw.RequireJSON)}
	if rps := a.Config().App.ThrottleRPS; rps > 0 {
		throttle := appmw.NewThrottle(rps, a.Config().App.ThrottleBurst)
		api = append([]router.Ref{router.Func(throttle.Handle)}, api...)
	}

	t := a.Routes
	t.Get("/", router.Action[*controllers.Home]("Index"))
	t.Get("/file", router.Action[*controllers.File]("Index"))

	t.WithMiddleware(api, func(t *router.Table) {
		t.Get("/biaya", router.Action[*controllers.Biaya]("Result"))
		t.Get("/biaya/:idBiaya", router.Action[*controllers.Biaya]("Row"))
		t.Post("/biaya", router.Action[*controllers.Biaya]("Insert"))
		t.Patch("/biaya/:idBiaya", router.Action[*controllers.Biaya]("Update"))
		t.Delete("/biaya/:idBiaya", router.Action[*controllers.Biaya]("Delete"))
	})
	return nil
}
