package service

import "postscript/internal/models"

// CommentPolicy decides who may mutate a comment.
type CommentPolicy struct{}

// NewCommentPolicy creates a CommentPolicy.
func NewCommentPolicy() CommentPolicy { return CommentPolicy{} }

// CanCreate requires an authenticated actor.
func (CommentPolicy) CanCreate(actor *models.User) error {
	return authenticated(actor)
}

// CanView requires an authenticated actor.
func (CommentPolicy) CanView(actor *models.User, _ *models.Comment) error {
	return authenticated(actor)
}

// CanUpdate allows the author or an admin.
func (CommentPolicy) CanUpdate(actor *models.User, comment *models.Comment) error {
	if err := authenticated(actor); err != nil {
		return err
	}
	if actor.IsAdmin || actor.ID == comment.UserID {
		return nil
	}
	return models.NewForbiddenError("You can only update your own comments")
}

// CanDelete allows the author or an admin.
func (CommentPolicy) CanDelete(actor *models.User, comment *models.Comment) error {
	if err := authenticated(actor); err != nil {
		return err
	}
	if actor.IsAdmin || actor.ID == comment.UserID {
		return nil
	}
	return models.NewForbiddenError("You can only delete your own comments")
}

// CanForceDelete is admin only.
func (CommentPolicy) CanForceDelete(actor *models.User) error {
	return admin(actor, "Only administrators can permanently delete comments")
}

// CanUpdateStatus is admin only.
func (CommentPolicy) CanUpdateStatus(actor *models.User) error {
	return admin(actor, "Only administrators can moderate comments")
}

// CanRestore is admin only.
func (CommentPolicy) CanRestore(actor *models.User) error {
	return admin(actor, "Only administrators can restore comments")
}

// CanReindex is admin only.
func (CommentPolicy) CanReindex(actor *models.User) error {
	return admin(actor, "Only administrators can rebuild the search index")
}

func authenticated(actor *models.User) error {
	if actor == nil {
		return models.NewUnauthorizedError("Authentication required")
	}
	return nil
}

func admin(actor *models.User, message string) error {
	if err := authenticated(actor); err != nil {
		return err
	}
	if !actor.IsAdmin {
		return models.NewForbiddenError(message)
	}
	return nil
}
