package models

// Enrich returns a copy of r where every empty field is filled from patch.
// Populated fields are never overwritten. Identity-bearing fields (title,
// source URL, organization name, deadline) and the record's ID, source and
// status are never taken from the patch, so the fingerprint is stable
// across enrichment passes.
func (r CanonicalRecord) Enrich(patch CanonicalRecord) CanonicalRecord {
	out := r.clone()

	if out.PublicationDate == nil && patch.PublicationDate != nil {
		out.PublicationDate = DatePtr(patch.PublicationDate)
	}
	if out.Organization.URL == "" {
		out.Organization.URL = patch.Organization.URL
	}
	if len(out.Categories) == 0 && len(patch.Categories) > 0 {
		out.Categories = append([]Category(nil), patch.Categories...)
		if len(out.Categories) > MaxCategories {
			out.Categories = out.Categories[:MaxCategories]
		}
	}
	if len(out.Tags) == 0 && len(patch.Tags) > 0 {
		out.Tags = append([]string(nil), patch.Tags...)
	}
	if len(out.Eligibility) == 0 && len(patch.Eligibility) > 0 {
		out.Eligibility = append([]EligibilityType(nil), patch.Eligibility...)
	}
	if len(out.TargetAudience) == 0 && len(patch.TargetAudience) > 0 {
		out.TargetAudience = append([]string(nil), patch.TargetAudience...)
	}
	if out.GeoScope == GeoScopeUnset {
		out.GeoScope = patch.GeoScope
	}
	if out.GeoLabel == "" {
		out.GeoLabel = patch.GeoLabel
	}
	if out.AmountMin == nil && patch.AmountMin != nil {
		v := *patch.AmountMin
		out.AmountMin = &v
	}
	if out.AmountMax == nil && patch.AmountMax != nil {
		v := *patch.AmountMax
		out.AmountMax = &v
	}
	if out.Resume == "" {
		out.Resume = patch.Resume
	}
	if out.Description == "" {
		out.Description = patch.Description
	}
	if out.ApplicationURL == "" {
		out.ApplicationURL = patch.ApplicationURL
	}
	if out.ContactEmail == "" {
		out.ContactEmail = patch.ContactEmail
	}
	return out
}

func (r CanonicalRecord) clone() CanonicalRecord {
	out := r
	out.PublicationDate = DatePtr(r.PublicationDate)
	out.Deadline = DatePtr(r.Deadline)
	out.Categories = append([]Category(nil), r.Categories...)
	out.Tags = append([]string(nil), r.Tags...)
	out.Eligibility = append([]EligibilityType(nil), r.Eligibility...)
	out.TargetAudience = append([]string(nil), r.TargetAudience...)
	if r.AmountMin != nil {
		v := *r.AmountMin
		out.AmountMin = &v
	}
	if r.AmountMax != nil {
		v := *r.AmountMax
		out.AmountMax = &v
	}
	return out
}
