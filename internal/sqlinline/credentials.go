package sqlinline

// QSelectProviderKey fetches the stored API key for one provider.
const QSelectProviderKey = `--sql 4f9b2e61-8a3c-4d17-b5e0-6c84f2a91d35
select api_key
from provider_credentials
where provider = $1
limit 1;
`

// QUpsertProviderKey stores or replaces a provider's API key.
const QUpsertProviderKey = `--sql d2c7a510-94eb-4f68-8312-5b0e7c6f4a89
insert into provider_credentials (provider, api_key, props, updated_at)
values ($1, $2, $3, now())
on conflict (provider)
do update set api_key = excluded.api_key,
              props = excluded.props,
              updated_at = now();
`
