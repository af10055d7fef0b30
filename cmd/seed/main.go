// Command seed fills a development database with fake users, posts and comments.
package main

import (
	"context"
	"flag"
	"log"

	"postscript/internal/bootstrap"
	"postscript/internal/config"
	"postscript/internal/indexer"
	"postscript/internal/repository"
	"postscript/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 20, "Number of users to create")
	numPosts := flag.Int("posts", 50, "Number of posts to create")
	perPost := flag.Int("comments", 10, "Comments per post")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	fast := flag.Bool("fast", false, "Store plain passwords (skip bcrypt)")
	randSeed := flag.Int64("seed", 0, "Random seed for reproducible data")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}

	ctx := context.Background()
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{ServiceName: "postscript-seed", SkipQueue: true})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer rt.Close(ctx)

	log.Printf("Target: %d users, %d posts, %d comments per post, clean=%v", *numUsers, *numPosts, *perPost, *shouldClean)
	result, err := seed.Seed(rt.Database.DB, seed.Options{
		NumUsers:        *numUsers,
		NumPosts:        *numPosts,
		CommentsPerPost: *perPost,
		ShouldClean:     *shouldClean,
		SkipBcrypt:      *fast,
		Seed:            *randSeed,
	})
	if err != nil {
		rt.Close(ctx)
		log.Fatalf("Seeding failed: %v", err)
	}

	// Seeded rows bypass the change pipeline, so index them directly.
	report, err := indexer.NewReindexer(
		repository.NewCommentRepository(rt.Database.DB), rt.Index, cfg.ReindexBatchSize, cfg.ReindexRefreshTimeout,
	).Run(ctx)
	if err != nil {
		rt.Close(ctx)
		log.Fatalf("Indexing seeded comments failed: %v", err)
	}

	log.Printf("Created %d users, %d posts, %d comments; indexed %d", result.Users, result.Posts, result.Comments, report.Indexed)
	log.Printf("All seeded users have the password: %s", seed.DefaultPassword)
}
