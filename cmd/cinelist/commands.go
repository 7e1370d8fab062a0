package main

import "github.com/urfave/cli/v3"

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the JSON API",
		Action: r.Serve,
	}
}

func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Apply database migrations (postgres backend only)",
		Action: r.Migrate,
	}
}

func loginCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in and persist the session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "email",
				Aliases:  []string{"e"},
				Usage:    "Account email",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "password",
				Aliases:  []string{"p"},
				Usage:    "Account password",
				Sources:  cli.EnvVars("CINELIST_PASSWORD"),
				Required: true,
			},
		},
		Action: r.Login,
	}
}

func logoutCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "Sign out and forget the persisted session",
		Action: r.Logout,
	}
}

func whoamiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "whoami",
		Usage:  "Show the signed-in user and profile",
		Action: r.WhoAmI,
	}
}

func watchlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "watchlist",
		Aliases: []string{"wl"},
		Usage:   "Manage your watchlist",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List saved movies, newest first",
				Action: r.WatchlistList,
			},
			{
				Name:      "add",
				Usage:     "Save a movie",
				Arguments: []cli.Argument{&cli.IntArg{Name: "movie"}},
				Action:    r.WatchlistAdd,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove a saved movie",
				Arguments: []cli.Argument{&cli.IntArg{Name: "movie"}},
				Action:    r.WatchlistRemove,
			},
		},
	}
}

func reviewCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "Read and write reviews",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List your reviews, or every review of --movie",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "movie",
						Usage: "Movie id",
					},
				},
				Action: r.ReviewList,
			},
			{
				Name:      "submit",
				Usage:     "Create or update your review of a movie",
				Arguments: []cli.Argument{&cli.IntArg{Name: "movie"}},
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:     "rating",
						Aliases:  []string{"r"},
						Usage:    "Stars from 1 to 5",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "comment",
						Aliases: []string{"c"},
						Usage:   "Optional comment",
					},
				},
				Action: r.ReviewSubmit,
			},
			{
				Name:      "delete",
				Usage:     "Delete your review of a movie",
				Arguments: []cli.Argument{&cli.IntArg{Name: "movie"}},
				Action:    r.ReviewDelete,
			},
		},
	}
}
